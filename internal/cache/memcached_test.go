package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMemcache struct {
	items  map[string]*memcache.Item
	getErr error
}

func newFakeMemcache() *fakeMemcache {
	return &fakeMemcache{items: make(map[string]*memcache.Item)}
}

func (f *fakeMemcache) Get(key string) (*memcache.Item, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	it, ok := f.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return it, nil
}

func (f *fakeMemcache) Set(item *memcache.Item) error {
	f.items[item.Key] = item
	return nil
}

func (f *fakeMemcache) Delete(key string) error {
	if _, ok := f.items[key]; !ok {
		return memcache.ErrCacheMiss
	}
	delete(f.items, key)
	return nil
}

func (f *fakeMemcache) Close() error { return nil }

func newTestClient() (*MemcachedClient, *fakeMemcache) {
	fake := newFakeMemcache()
	return &MemcachedClient{client: fake, cfg: &config.CacheConfig{
		Enabled:       true,
		EntryPointTtl: 24 * time.Hour,
		NotFoundTtl:   6 * time.Hour,
	}}, fake
}

func TestMemcachedClient_EntryPoint(t *testing.T) {
	mc, fake := newTestClient()

	_, lookup := mc.EntryPoint("acme.com")
	assert.Equal(t, Miss, lookup)

	mc.RememberEntryPoint("acme.com", "https://www.acme.com/sitemap.xml")
	url, lookup := mc.EntryPoint("acme.com")
	assert.Equal(t, Found, lookup)
	assert.Equal(t, "https://www.acme.com/sitemap.xml", url)

	it := fake.items[entryPointKey("acme.com")]
	require.NotNil(t, it)
	assert.Equal(t, int32(86400), it.Expiration)

	mc.Forget("acme.com")
	_, lookup = mc.EntryPoint("acme.com")
	assert.Equal(t, Miss, lookup)
	mc.Forget("acme.com")
}

func TestMemcachedClient_NoSitemap(t *testing.T) {
	mc, fake := newTestClient()

	mc.RememberNoSitemap("nothing.io")
	_, lookup := mc.EntryPoint("nothing.io")
	assert.Equal(t, NoSitemap, lookup)
	assert.Equal(t, int32(21600), fake.items[entryPointKey("nothing.io")].Expiration)
}

func TestMemcachedClient_FailuresAreMisses(t *testing.T) {
	mc, fake := newTestClient()
	fake.items[entryPointKey("broken.com")] = &memcache.Item{Key: entryPointKey("broken.com"), Value: []byte("{")}

	_, lookup := mc.EntryPoint("broken.com")
	assert.Equal(t, Miss, lookup)

	fake.getErr = errors.New("connection refused")
	_, lookup = mc.EntryPoint("acme.com")
	assert.Equal(t, Miss, lookup)
}

func TestEntryPointKey(t *testing.T) {
	key := entryPointKey("acme.com")
	assert.Len(t, key, len("sitemap-entry-")+64)
	assert.NotEqual(t, key, entryPointKey("www.acme.com"))
}
