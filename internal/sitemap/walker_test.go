package sitemap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	indexURL    = "https://example.com/sitemap.xml"
	productsURL = "https://example.com/sitemap-products.xml"
	careersURL  = "https://example.com/sitemap-careers.xml"
	legalURL    = "https://example.com/sitemap-legal.xml"
)

func testDiscovery() *config.DiscoveryConfig {
	cfg := config.DefaultDiscovery()
	cfg.DocumentTimeout = time.Second
	return cfg
}

func urls(entries []model.SitemapEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.URL)
	}
	return out
}

func threeSubSitemaps() *fakeFetcher {
	return newFakeFetcher().
		serve(indexURL, sitemapIndex(productsURL, careersURL, legalURL)).
		serve(productsURL, urlset("https://example.com/products/widget", "https://example.com/products/gadget")).
		serve(careersURL, urlset("https://example.com/careers/engineer", "https://example.com/sitemap-careers.xml")).
		serve(legalURL, urlset("https://example.com/legal/privacy", "https://example.com/legal/terms"))
}

func TestWalker_Direct(t *testing.T) {
	f := newFakeFetcher().serve(indexURL, urlset(
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/about/",
		"https://example.com/page-sitemap.xml",
	))
	w := NewWalker(f, testDiscovery())

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.NoError(t, err)
	assert.Equal(t, KindDirect, res.Kind)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/about"}, urls(res.Entries))
	assert.Equal(t, 0, res.SubSitemaps)
}

func TestWalker_IndexInListedOrder(t *testing.T) {
	w := NewWalker(threeSubSitemaps(), testDiscovery())

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.NoError(t, err)
	assert.Equal(t, KindIndex, res.Kind)
	assert.Equal(t, 3, res.SubSitemaps)
	assert.Equal(t, 3, res.Visited)
	assert.Equal(t, 0, res.FailedSubSitemaps)
	assert.Equal(t, []string{
		"https://example.com/products/widget",
		"https://example.com/products/gadget",
		"https://example.com/careers/engineer",
		"https://example.com/legal/privacy",
		"https://example.com/legal/terms",
	}, urls(res.Entries))
}

func TestWalker_SubSitemapFailureIsSkipped(t *testing.T) {
	f := threeSubSitemaps().fail(careersURL, 500)
	w := NewWalker(f, testDiscovery())

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedSubSitemaps)
	assert.Equal(t, []string{
		"https://example.com/products/widget",
		"https://example.com/products/gadget",
		"https://example.com/legal/privacy",
		"https://example.com/legal/terms",
	}, urls(res.Entries))
}

func TestWalker_MalformedSubSitemapIsSkipped(t *testing.T) {
	f := threeSubSitemaps().serve(legalURL, `<urlset><url><loc>https://example.com/legal`)
	w := NewWalker(f, testDiscovery())

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedSubSitemaps)
	assert.Len(t, res.Entries, 3)
}

func TestWalker_AllSubSitemapsFailed(t *testing.T) {
	f := threeSubSitemaps().fail(productsURL, 500).fail(careersURL, 503).fail(legalURL, 404)
	w := NewWalker(f, testDiscovery())

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.ErrorIs(t, err, ErrAllSubSitemapsFailed)
	require.NotNil(t, res)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 3, res.FailedSubSitemaps)
}

func TestWalker_MaxSubSitemaps(t *testing.T) {
	f := threeSubSitemaps()
	cfg := testDiscovery()
	cfg.MaxSubSitemaps = 2
	w := NewWalker(f, cfg)

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, res.SubSitemaps)
	assert.Equal(t, 2, res.Visited)
	assert.NotContains(t, f.called(), legalURL)
	assert.Len(t, res.Entries, 3)
}

func TestWalker_MaxTotalPages(t *testing.T) {
	f := threeSubSitemaps()
	cfg := testDiscovery()
	cfg.MaxTotalPages = 3
	w := NewWalker(f, cfg)

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, []string{
		"https://example.com/products/widget",
		"https://example.com/products/gadget",
		"https://example.com/careers/engineer",
	}, urls(res.Entries))
	assert.NotContains(t, f.called(), legalURL, "walk stops fetching once the page bound is reached")
}

func TestWalker_NestedIndexIsNotFollowed(t *testing.T) {
	nestedURL := "https://example.com/sitemap-nested.xml"
	deepURL := "https://example.com/sitemap-deep.xml"
	f := threeSubSitemaps().
		serve(indexURL, sitemapIndex(productsURL, nestedURL)).
		serve(nestedURL, sitemapIndex(deepURL)).
		serve(deepURL, urlset("https://example.com/deep/page"))
	w := NewWalker(f, testDiscovery())

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedNested)
	assert.Equal(t, 0, res.FailedSubSitemaps)
	assert.NotContains(t, f.called(), deepURL)
	assert.Len(t, res.Entries, 2)
}

func TestWalker_ConcurrentWindowKeepsOrder(t *testing.T) {
	var subs []string
	f := newFakeFetcher()
	for i := 0; i < 6; i++ {
		u := fmt.Sprintf("https://example.com/sitemap-%d.xml", i)
		subs = append(subs, u)
		f.serve(u, urlset(fmt.Sprintf("https://example.com/page-%d", i)))
		// earlier sub-sitemaps answer last
		f.delays[u] = time.Duration(6-i) * 5 * time.Millisecond
	}
	f.serve(indexURL, sitemapIndex(subs...))
	cfg := testDiscovery()
	cfg.SubSitemapConcurrency = 3
	w := NewWalker(f, cfg)

	res, err := w.Walk(context.Background(), indexURL, "example.com")
	require.NoError(t, err)
	var want []string
	for i := 0; i < 6; i++ {
		want = append(want, fmt.Sprintf("https://example.com/page-%d", i))
	}
	assert.Equal(t, want, urls(res.Entries))
}

func TestWalker_IndexEntriesSurviveFailedSubSitemaps(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>` + productsURL + `</loc></sitemap>
  <sitemap><loc>` + careersURL + `</loc></sitemap>
  <url><loc>https://example.com/about</loc></url>
</sitemapindex>`
	f := newFakeFetcher().fail(productsURL, 500).fail(careersURL, 503)
	w := NewWalker(f, testDiscovery())

	res, err := w.WalkDocument(context.Background(), indexURL, []byte(body), "example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, res.FailedSubSitemaps)
	assert.Equal(t, []string{"https://example.com/about"}, urls(res.Entries))
}

func TestWalker_EntryFailures(t *testing.T) {
	t.Run("entry fetch failure", func(t *testing.T) {
		w := NewWalker(newFakeFetcher().fail(indexURL, 500), testDiscovery())
		_, err := w.Walk(context.Background(), indexURL, "example.com")
		require.Error(t, err)
	})
	t.Run("malformed entry document", func(t *testing.T) {
		w := NewWalker(newFakeFetcher().serve(indexURL, "<sitemapindex><sitemap>"), testDiscovery())
		_, err := w.Walk(context.Background(), indexURL, "example.com")
		require.ErrorIs(t, err, ErrParse)
	})
}

func TestWalker_CancelledContext(t *testing.T) {
	w := NewWalker(threeSubSitemaps(), testDiscovery())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := []byte(sitemapIndex(productsURL, careersURL))
	_, err := w.WalkDocument(ctx, indexURL, body, "example.com")
	require.ErrorIs(t, err, context.Canceled)
}
