package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/IliaW/sitemap-intel/internal/persistence"
)

// Outcome describes what a reconciliation did to the stored page set of one company.
type Outcome struct {
	StructureID int64
	Discovered  int // candidates offered
	Candidates  int // candidates after the insert cap
	Inserted    int
	Rejected    int
	PagesBefore int
	PagesAfter  int
	Skipped     bool // below the minimum yield, nothing was written
}

// Engine replaces the stored pages of a company with a freshly classified set.
type Engine struct {
	store     persistence.WebsiteStorage
	minYield  int
	maxInsert int
	now       func() time.Time
}

func New(store persistence.WebsiteStorage, cfg *config.DiscoveryConfig) *Engine {
	return &Engine{
		store:     store,
		minYield:  cfg.MinYield,
		maxInsert: cfg.MaxInsertPages,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile runs delete, insert and count update in one transaction. Rows the store refuses are
// skipped and counted; any other error rolls everything back and leaves the previous set in place.
// With fewer candidates than the minimum yield nothing is written at all.
func (e *Engine) Reconcile(ctx context.Context, company *model.Company, pages []*model.PageRecord) (*Outcome, error) {
	out := &Outcome{Discovered: len(pages)}

	if len(pages) < e.minYield {
		out.Skipped = true
		out.PagesBefore = e.storedCount(ctx, company)
		out.PagesAfter = out.PagesBefore
		slog.Info("not enough pages discovered, stored pages are kept.", slog.String("domain", company.Domain),
			slog.Int("discovered", len(pages)), slog.Int("min_yield", e.minYield),
			slog.Int("stored", out.PagesBefore))
		return out, nil
	}

	if e.maxInsert > 0 && len(pages) > e.maxInsert {
		pages = pages[:e.maxInsert]
	}
	out.Candidates = len(pages)

	err := e.store.WithTx(ctx, func(tx persistence.PageTx) error {
		now := e.now()
		ws, err := tx.EnsureStructure(ctx, company.ID, company.Domain, now)
		if err != nil {
			return err
		}
		out.StructureID = ws.ID

		if out.PagesBefore, err = tx.DeletePages(ctx, ws.ID); err != nil {
			return err
		}

		for _, p := range pages {
			row := *p
			row.StructureID = ws.ID
			err = tx.InsertPage(ctx, &row)
			if errors.Is(err, persistence.ErrRowRejected) {
				out.Rejected++
				slog.Debug("page skipped.", slog.String("url", row.URL), slog.String("err", err.Error()))
				continue
			}
			if err != nil {
				return err
			}
			out.Inserted++
		}

		return tx.UpdateStructure(ctx, ws.ID, out.Inserted, now)
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation of company %d rolled back: %w", company.ID, err)
	}

	out.PagesAfter = out.Inserted
	slog.Debug("pages reconciled.", slog.String("domain", company.Domain), slog.Int64("structure_id", out.StructureID),
		slog.Int("before", out.PagesBefore), slog.Int("inserted", out.Inserted), slog.Int("rejected", out.Rejected))
	return out, nil
}

// storedCount is best effort: the count is only reported, a failure to read it changes nothing.
func (e *Engine) storedCount(ctx context.Context, company *model.Company) int {
	ws, err := e.store.StructureByCompany(ctx, company.ID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			slog.Warn("failed to read stored structure.", slog.Int64("company_id", company.ID),
				slog.String("err", err.Error()))
		}
		return company.StoredPages
	}
	count, err := e.store.CountPages(ctx, ws.ID)
	if err != nil {
		slog.Warn("failed to count stored pages.", slog.Int64("structure_id", ws.ID), slog.String("err", err.Error()))
		return ws.TotalPages
	}
	return count
}
