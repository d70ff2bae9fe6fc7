package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/IliaW/sitemap-intel/internal/fetcher"
)

// fakeFetcher serves canned documents. Unknown urls answer 404.
type fakeFetcher struct {
	mu     sync.Mutex
	docs   map[string]string
	codes  map[string]int
	delays map[string]time.Duration
	calls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		docs:   make(map[string]string),
		codes:  make(map[string]int),
		delays: make(map[string]time.Duration),
	}
}

func (f *fakeFetcher) serve(url, body string) *fakeFetcher {
	f.docs[url] = body
	return f
}

func (f *fakeFetcher) fail(url string, code int) *fakeFetcher {
	f.codes[url] = code
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, _ time.Duration) *fetcher.Result {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	delay := f.delays[url]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return &fetcher.Result{URL: url, Status: fetcher.StatusTimeout, Cause: ctx.Err()}
		case <-time.After(delay):
		}
	}
	if code, ok := f.codes[url]; ok {
		status := fetcher.StatusError
		if code == http.StatusNotFound {
			status = fetcher.StatusNotFound
		}
		return &fetcher.Result{URL: url, Status: status, StatusCode: code}
	}
	body, ok := f.docs[url]
	if !ok {
		return &fetcher.Result{URL: url, Status: fetcher.StatusNotFound, StatusCode: http.StatusNotFound}
	}
	return &fetcher.Result{URL: url, Status: fetcher.StatusOK, StatusCode: http.StatusOK, Body: []byte(body)}
}

func (f *fakeFetcher) FetchEntry(ctx context.Context, url string, responseTimeout, _ time.Duration) *fetcher.Result {
	return f.Fetch(ctx, url, responseTimeout)
}

func (f *fakeFetcher) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func urlset(urls ...string) string {
	s := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, u := range urls {
		s += fmt.Sprintf("<url><loc>%s</loc></url>", u)
	}
	return s + "</urlset>"
}

func sitemapIndex(urls ...string) string {
	s := `<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, u := range urls {
		s += fmt.Sprintf("<sitemap><loc>%s</loc><lastmod>2024-01-01</lastmod></sitemap>", u)
	}
	return s + "</sitemapindex>"
}
