package sitemap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IliaW/sitemap-intel/internal/fetcher"
)

var (
	ErrSitemapNotFound    = errors.New("sitemap not found")
	ErrSitemapUnreachable = errors.New("sitemap locations unreachable")
)

// NotFoundError means every conventional location answered 404 or 410.
type NotFoundError struct {
	Domain   string
	Attempts []error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s for %s after %d attempts", ErrSitemapNotFound.Error(), e.Domain, len(e.Attempts))
}

func (e *NotFoundError) Unwrap() error {
	return ErrSitemapNotFound
}

// UnreachableError means no location answered and at least one failed with a timeout, a server
// error or a transport error, so the domain may well have a sitemap.
type UnreachableError struct {
	Domain   string
	Attempts []error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrSitemapUnreachable.Error(), e.Domain, errors.Join(e.Attempts...).Error())
}

// Unwrap exposes the fetch errors, so errors.Is matches fetcher.ErrTimeout and fetcher.ErrFetch.
func (e *UnreachableError) Unwrap() []error {
	return append([]error{ErrSitemapUnreachable}, e.Attempts...)
}

// Location is a working sitemap entry point together with the body served there.
type Location struct {
	URL  string
	Body []byte
}

type Locator struct {
	fetcher         fetcher.DocumentFetcher
	paths           []string
	probeTimeout    time.Duration
	documentTimeout time.Duration
}

// NewLocator takes url templates such as "https://%s/sitemap.xml" that are probed in order. A
// candidate has probeTimeout to start answering; the document it serves is read under documentTimeout.
func NewLocator(f fetcher.DocumentFetcher, paths []string, probeTimeout, documentTimeout time.Duration) *Locator {
	return &Locator{fetcher: f, paths: paths, probeTimeout: probeTimeout, documentTimeout: documentTimeout}
}

// Locate returns the first candidate answering with a success status. When every candidate is
// missing the result is a *NotFoundError, an expected outcome. Any other failure among the
// candidates gives an *UnreachableError instead.
func (l *Locator) Locate(ctx context.Context, domain string) (*Location, error) {
	var attempts []error
	missing := true
	for _, candidate := range l.Candidates(domain) {
		res := l.fetcher.FetchEntry(ctx, candidate, l.probeTimeout, l.documentTimeout)
		if res.OK() {
			slog.Debug("sitemap located.", slog.String("domain", domain), slog.String("url", candidate))
			return &Location{URL: candidate, Body: res.Body}, nil
		}
		attempts = append(attempts, res.Err())
		if res.Status != fetcher.StatusNotFound {
			missing = false
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sitemap lookup interrupted: %w", err)
		}
	}
	if missing {
		return nil, &NotFoundError{Domain: domain, Attempts: attempts}
	}
	return nil, &UnreachableError{Domain: domain, Attempts: attempts}
}

// Candidates expands the templates for a domain, dropping duplicates.
func (l *Locator) Candidates(domain string) []string {
	seen := make(map[string]struct{}, len(l.paths))
	candidates := make([]string, 0, len(l.paths))
	for _, tpl := range l.paths {
		c := fmt.Sprintf(tpl, domain)
		if strings.Contains(c, "://www.www.") {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		candidates = append(candidates, c)
	}
	return candidates
}
