package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/bradfitz/gomemcache/memcache"
)

type Lookup int

const (
	Miss Lookup = iota
	Found
	NoSitemap
)

// LocatorCache remembers where a domain's sitemap lives and which domains have none.
// Failures are logged and treated as a miss.
type LocatorCache interface {
	EntryPoint(domain string) (string, Lookup)
	RememberEntryPoint(domain, url string)
	RememberNoSitemap(domain string)
	Forget(domain string)
	Close()
}

type memcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
	Close() error
}

type entryPoint struct {
	URL   string `json:"url,omitempty"`
	Found bool   `json:"found"`
}

type MemcachedClient struct {
	client memcacheClient
	cfg    *config.CacheConfig
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	client := memcache.NewFromSelector(ss)
	slog.Info("pinging the memcached.")
	err = client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return &MemcachedClient{client: client, cfg: cacheConfig}
}

func (mc *MemcachedClient) EntryPoint(domain string) (string, Lookup) {
	key := entryPointKey(domain)
	it, err := mc.client.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.Error("failed to get sitemap entry point.", slog.String("domain", domain),
				slog.String("err", err.Error()))
		}
		return "", Miss
	}

	var ep entryPoint
	if err = json.Unmarshal(it.Value, &ep); err != nil {
		slog.Warn("cached entry point is not readable.", slog.String("key", key), slog.String("err", err.Error()))
		return "", Miss
	}
	if !ep.Found {
		return "", NoSitemap
	}
	if ep.URL == "" {
		return "", Miss
	}
	return ep.URL, Found
}

func (mc *MemcachedClient) RememberEntryPoint(domain, url string) {
	mc.set(domain, entryPoint{URL: url, Found: true}, int32(mc.cfg.EntryPointTtl.Seconds()))
}

func (mc *MemcachedClient) RememberNoSitemap(domain string) {
	mc.set(domain, entryPoint{Found: false}, int32(mc.cfg.NotFoundTtl.Seconds()))
}

func (mc *MemcachedClient) Forget(domain string) {
	err := mc.client.Delete(entryPointKey(domain))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		slog.Error("failed to delete sitemap entry point.", slog.String("domain", domain),
			slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) set(domain string, value entryPoint, expiration int32) {
	byteValue, err := json.Marshal(value)
	if err != nil {
		slog.Error("failed to marshal value.", slog.String("err", err.Error()))
		return
	}
	item := &memcache.Item{
		Key:        entryPointKey(domain),
		Value:      byteValue,
		Expiration: expiration,
	}
	if err = mc.client.Set(item); err != nil {
		slog.Error("failed to cache sitemap entry point.", slog.String("domain", domain),
			slog.String("err", err.Error()))
	}
}

func entryPointKey(domain string) string {
	return "sitemap-entry-" + hashDomain(domain)
}

func hashDomain(domain string) string {
	hash := sha256.New()
	hash.Write([]byte(domain))
	return hex.EncodeToString(hash.Sum(nil))
}

// NoopCache is used when caching is disabled.
type NoopCache struct{}

func (NoopCache) EntryPoint(string) (string, Lookup) { return "", Miss }
func (NoopCache) RememberEntryPoint(string, string)  {}
func (NoopCache) RememberNoSitemap(string)           {}
func (NoopCache) Forget(string)                      {}
func (NoopCache) Close()                             {}
