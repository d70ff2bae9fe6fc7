package sitemap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/fetcher"
	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/PuerkitoBio/purell"
	"golang.org/x/sync/errgroup"
)

var ErrAllSubSitemapsFailed = errors.New("all sub-sitemaps failed")

type WalkResult struct {
	Kind              Kind
	Entries           []model.SitemapEntry
	SubSitemaps       int // pointers listed in the index, before the fan-out bound
	Visited           int // pointers actually fetched
	FailedSubSitemaps int
	SkippedNested     int
	Truncated         bool
}

// Walker turns an entry-point document into content entries. Index documents are followed
// one level deep: nested indexes found inside sub-sitemaps are not walked.
type Walker struct {
	fetcher fetcher.DocumentFetcher
	cfg     *config.DiscoveryConfig
}

func NewWalker(f fetcher.DocumentFetcher, cfg *config.DiscoveryConfig) *Walker {
	return &Walker{fetcher: f, cfg: cfg}
}

// Walk fetches the entry document and walks it.
func (w *Walker) Walk(ctx context.Context, entryURL, domain string) (*WalkResult, error) {
	res := w.fetcher.Fetch(ctx, entryURL, w.cfg.DocumentTimeout)
	if !res.OK() {
		return nil, fmt.Errorf("failed to fetch entry sitemap: %w", res.Err())
	}
	return w.WalkDocument(ctx, entryURL, res.Body, domain)
}

// WalkDocument walks an entry document that has already been fetched.
func (w *Walker) WalkDocument(ctx context.Context, entryURL string, body []byte, domain string) (*WalkResult, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("entry sitemap %s: %w", entryURL, err)
	}

	acc := newAccumulator(w.cfg.MaxTotalPages)
	if doc.kind() == KindDirect {
		slog.Debug("direct sitemap detected.", slog.String("url", entryURL), slog.Int("urls", len(doc.urls)))
		acc.add(extractEntries(doc, domain))
		return &WalkResult{Kind: KindDirect, Entries: acc.entries, Truncated: acc.truncated}, nil
	}

	result := &WalkResult{Kind: KindIndex, SubSitemaps: len(doc.sitemaps)}
	pointers := subSitemapURLs(doc, w.cfg.MaxSubSitemaps)
	slog.Debug("sitemap index detected.", slog.String("url", entryURL),
		slog.Int("sub-sitemaps", len(doc.sitemaps)), slog.Int("to visit", len(pointers)))

	// Stray <url> elements in an index still count.
	acc.add(extractEntries(doc, domain))

	window := w.cfg.SubSitemapConcurrency
	if window < 1 {
		window = 1
	}
	for start := 0; start < len(pointers) && !acc.full(); start += window {
		if err = ctx.Err(); err != nil {
			return nil, fmt.Errorf("sitemap walk interrupted: %w", err)
		}
		end := min(start+window, len(pointers))
		for _, sub := range w.fetchWindow(ctx, pointers[start:end], domain) {
			result.Visited++
			switch {
			case sub.err != nil:
				result.FailedSubSitemaps++
				slog.Warn("sub-sitemap skipped.", slog.String("url", sub.url), slog.String("err", sub.err.Error()))
			case sub.nested:
				result.SkippedNested++
				slog.Info("nested sitemap index is not followed.", slog.String("url", sub.url))
			default:
				acc.add(sub.entries)
			}
		}
	}

	result.Entries = acc.entries
	result.Truncated = acc.truncated || (acc.full() && result.Visited < len(pointers))
	// Entries listed directly in the index still make a usable result.
	if result.Visited > 0 && result.FailedSubSitemaps == result.Visited && len(acc.entries) == 0 {
		return result, fmt.Errorf("%w: %d of %d", ErrAllSubSitemapsFailed, result.FailedSubSitemaps, result.Visited)
	}
	return result, nil
}

type subSitemap struct {
	url     string
	entries []model.SitemapEntry
	nested  bool
	err     error
}

// fetchWindow fetches a window of sub-sitemaps concurrently and returns them in listed order.
func (w *Walker) fetchWindow(ctx context.Context, urls []string, domain string) []subSitemap {
	out := make([]subSitemap, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			out[i] = w.fetchSubSitemap(ctx, u, domain)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (w *Walker) fetchSubSitemap(ctx context.Context, url, domain string) subSitemap {
	res := w.fetcher.Fetch(ctx, url, w.cfg.DocumentTimeout)
	if !res.OK() {
		return subSitemap{url: url, err: res.Err()}
	}
	doc, err := parseDocument(res.Body)
	if err != nil {
		return subSitemap{url: url, err: err}
	}
	if doc.kind() == KindIndex && len(doc.urls) == 0 {
		return subSitemap{url: url, nested: true}
	}
	return subSitemap{url: url, entries: extractEntries(doc, domain)}
}

func subSitemapURLs(doc *document, limit int) []string {
	urls := make([]string, 0, len(doc.sitemaps))
	for _, s := range doc.sitemaps {
		loc := strings.TrimSpace(s.Loc)
		if loc == "" {
			continue
		}
		urls = append(urls, loc)
		if limit > 0 && len(urls) >= limit {
			break
		}
	}
	return urls
}

// accumulator keeps entries in arrival order, drops duplicate urls and stops at the limit.
type accumulator struct {
	limit     int
	entries   []model.SitemapEntry
	seen      map[string]struct{}
	truncated bool
}

func newAccumulator(limit int) *accumulator {
	return &accumulator{limit: limit, seen: make(map[string]struct{})}
}

func (a *accumulator) full() bool {
	return a.limit > 0 && len(a.entries) >= a.limit
}

func (a *accumulator) add(entries []model.SitemapEntry) {
	for _, e := range entries {
		key := normalizeKey(e.URL)
		if _, dup := a.seen[key]; dup {
			continue
		}
		if a.full() {
			a.truncated = true
			return
		}
		a.seen[key] = struct{}{}
		a.entries = append(a.entries, e)
	}
}

func normalizeKey(raw string) string {
	norm, err := purell.NormalizeURLString(raw, purell.FlagsSafe|purell.FlagRemoveFragment|purell.FlagRemoveTrailingSlash)
	if err != nil {
		return raw
	}
	return norm
}
