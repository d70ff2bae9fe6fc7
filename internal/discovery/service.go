package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/cache"
	"github.com/IliaW/sitemap-intel/internal/classify"
	"github.com/IliaW/sitemap-intel/internal/fetcher"
	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/IliaW/sitemap-intel/internal/reconcile"
	"github.com/IliaW/sitemap-intel/internal/sitemap"
)

var ErrNoDomain = errors.New("company has no domain")

// Service runs the whole pipeline for a single company: locate, walk, classify and reconcile.
type Service struct {
	fetcher        fetcher.DocumentFetcher
	locator        *sitemap.Locator
	walker         *sitemap.Walker
	classifier     *classify.Classifier
	engine         *reconcile.Engine
	cache          cache.LocatorCache
	locatorTimeout time.Duration
	docTimeout     time.Duration
}

func NewService(f fetcher.DocumentFetcher, classifier *classify.Classifier, engine *reconcile.Engine,
	locatorCache cache.LocatorCache, cfg *config.DiscoveryConfig) *Service {
	if locatorCache == nil {
		locatorCache = cache.NoopCache{}
	}
	return &Service{
		fetcher:        f,
		locator:        sitemap.NewLocator(f, cfg.SitemapPaths, cfg.LocatorTimeout, cfg.DocumentTimeout),
		walker:         sitemap.NewWalker(f, cfg),
		classifier:     classifier,
		engine:         engine,
		cache:          locatorCache,
		locatorTimeout: cfg.LocatorTimeout,
		docTimeout:     cfg.DocumentTimeout,
	}
}

// Discover never returns an error: every outcome, including failures, is described by the report.
func (s *Service) Discover(ctx context.Context, company *model.Company) *model.DiscoveryReport {
	start := time.Now()
	report := &model.DiscoveryReport{
		CompanyID:   company.ID,
		CompanyName: company.Name,
		Domain:      company.Domain,
		PagesBefore: company.StoredPages,
		PagesAfter:  company.StoredPages,
	}
	defer func() {
		report.Duration = time.Since(start)
		report.FinishedAt = time.Now().UTC()
	}()

	if company.Domain == "" {
		return failed(report, ErrNoDomain)
	}

	loc, err := s.locate(ctx, company.Domain)
	if errors.Is(err, sitemap.ErrSitemapNotFound) {
		slog.Info("no sitemap found.", slog.String("domain", company.Domain), slog.String("err", err.Error()))
		report.Status = model.StatusInsufficientYield
		report.Error = err.Error()
		return report
	}
	if err != nil {
		return failed(report, err)
	}
	report.SitemapFound = true
	report.SitemapURL = loc.URL

	walk, err := s.walker.WalkDocument(ctx, loc.URL, loc.Body, company.Domain)
	if err != nil {
		if errors.Is(err, sitemap.ErrParse) {
			s.cache.Forget(company.Domain)
		}
		return failed(report, err)
	}
	report.Discovered = len(walk.Entries)
	if walk.Truncated {
		slog.Debug("sitemap walk truncated.", slog.String("domain", company.Domain),
			slog.Int("entries", len(walk.Entries)))
	}

	pages := s.classifier.ClassifyEntries(walk.Entries)
	out, err := s.engine.Reconcile(ctx, company, pages)
	if err != nil {
		return failed(report, err)
	}
	report.Inserted = out.Inserted
	report.Rejected = out.Rejected
	report.PagesBefore = out.PagesBefore
	report.PagesAfter = out.PagesAfter
	if out.Skipped {
		report.Status = model.StatusInsufficientYield
		return report
	}
	report.Status = model.StatusSucceeded
	slog.Info("company discovered.", slog.String("domain", company.Domain), slog.String("sitemap", loc.URL),
		slog.Int("before", out.PagesBefore), slog.Int("after", out.PagesAfter), slog.Int("rejected", out.Rejected))
	return report
}

// locate consults the cache before probing the conventional locations.
func (s *Service) locate(ctx context.Context, domain string) (*sitemap.Location, error) {
	switch url, lookup := s.cache.EntryPoint(domain); lookup {
	case cache.NoSitemap:
		return nil, &sitemap.NotFoundError{Domain: domain}
	case cache.Found:
		res := s.fetcher.FetchEntry(ctx, url, s.locatorTimeout, s.docTimeout)
		if res.OK() {
			slog.Debug("cached sitemap entry point used.", slog.String("domain", domain), slog.String("url", url))
			return &sitemap.Location{URL: url, Body: res.Body}, nil
		}
		slog.Debug("cached sitemap entry point is gone.", slog.String("url", url), slog.String("err", res.Err().Error()))
		s.cache.Forget(domain)
	}

	loc, err := s.locator.Locate(ctx, domain)
	switch {
	case err == nil:
		s.cache.RememberEntryPoint(domain, loc.URL)
	case errors.Is(err, sitemap.ErrSitemapNotFound):
		s.cache.RememberNoSitemap(domain)
	}
	return loc, err
}

func failed(report *model.DiscoveryReport, err error) *model.DiscoveryReport {
	report.Status = model.StatusFailed
	report.Error = err.Error()
	slog.Warn("company discovery failed.", slog.String("domain", report.Domain), slog.String("err", err.Error()))
	return report
}

// Panicked converts a recovered panic into a failed report.
func Panicked(company *model.Company, recovered any) *model.DiscoveryReport {
	return failed(&model.DiscoveryReport{
		CompanyID:   company.ID,
		CompanyName: company.Name,
		Domain:      company.Domain,
		PagesBefore: company.StoredPages,
		PagesAfter:  company.StoredPages,
		FinishedAt:  time.Now().UTC(),
	}, fmt.Errorf("panic: %v", recovered))
}
