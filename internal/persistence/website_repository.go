package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/lib/pq"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrRowRejected = errors.New("page row rejected")
)

// WebsiteStorage reads website structures and their pages and opens reconciliation transactions.
type WebsiteStorage interface {
	StructureByCompany(ctx context.Context, companyID int64) (*model.WebsiteStructure, error)
	StructureByDomain(ctx context.Context, domain string) (*model.WebsiteStructure, error)
	CountPages(ctx context.Context, structureID int64) (int, error)
	Pages(ctx context.Context, structureID int64) ([]*model.PageRecord, error)
	WithTx(ctx context.Context, fn func(PageTx) error) error
}

// PageTx is the write side of a reconciliation. Every call runs inside one database transaction.
type PageTx interface {
	EnsureStructure(ctx context.Context, companyID int64, domain string, now time.Time) (*model.WebsiteStructure, error)
	DeletePages(ctx context.Context, structureID int64) (int, error)
	// InsertPage returns an error wrapping ErrRowRejected when the store refuses the row. The
	// transaction stays usable in that case.
	InsertPage(ctx context.Context, page *model.PageRecord) error
	UpdateStructure(ctx context.Context, structureID int64, totalPages int, updatedAt time.Time) error
}

type WebsiteRepository struct {
	db *sql.DB
}

func NewWebsiteRepository(db *sql.DB) *WebsiteRepository {
	return &WebsiteRepository{db: db}
}

const structureColumns = "id, company_id, domain, total_pages, updated_at"

const pageColumns = `id, website_structure_id, url, path, title, page_type, bi_classification,
	business_value_tier, intelligence_value, last_modified, priority, change_frequency, depth`

func (r *WebsiteRepository) StructureByCompany(ctx context.Context, companyID int64) (*model.WebsiteStructure, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+structureColumns+
		" FROM website_structures WHERE company_id = $1 ORDER BY id LIMIT 1", companyID)
	return scanStructure(row)
}

func (r *WebsiteRepository) StructureByDomain(ctx context.Context, domain string) (*model.WebsiteStructure, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+structureColumns+
		" FROM website_structures WHERE domain = $1 ORDER BY id LIMIT 1", domain)
	return scanStructure(row)
}

func (r *WebsiteRepository) CountPages(ctx context.Context, structureID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM website_pages WHERE website_structure_id = $1", structureID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of structure %d: %w", structureID, err)
	}
	return count, nil
}

// Pages returns the stored pages of a structure in insertion order.
func (r *WebsiteRepository) Pages(ctx context.Context, structureID int64) ([]*model.PageRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+pageColumns+
		" FROM website_pages WHERE website_structure_id = $1 ORDER BY id", structureID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pages of structure %d: %w", structureID, err)
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			slog.Error("failed to close rows.", slog.String("err", err.Error()))
		}
	}(rows)

	var pages []*model.PageRecord
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pages of structure %d: %w", structureID, err)
	}
	return pages, nil
}

// WithTx runs fn inside a transaction. The transaction is committed when fn returns nil and rolled
// back otherwise, so readers see either the previous page set or the new one.
func (r *WebsiteRepository) WithTx(ctx context.Context, fn func(PageTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("failed to rollback transaction.", slog.String("err", err.Error()))
		}
	}()

	if err = fn(&pageTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pageTx struct {
	tx *sql.Tx
}

func (t *pageTx) EnsureStructure(ctx context.Context, companyID int64, domain string, now time.Time) (*model.WebsiteStructure, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+structureColumns+
		" FROM website_structures WHERE company_id = $1 ORDER BY id LIMIT 1", companyID)
	ws, err := scanStructure(row)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ws = &model.WebsiteStructure{CompanyID: companyID, Domain: domain, UpdatedAt: now}
	err = t.tx.QueryRowContext(ctx, `INSERT INTO website_structures (company_id, domain, total_pages, updated_at)
		VALUES ($1, $2, 0, $3) RETURNING id`, companyID, domain, now).Scan(&ws.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create website structure for company %d: %w", companyID, err)
	}
	slog.Debug("website structure created.", slog.Int64("company_id", companyID), slog.Int64("structure_id", ws.ID))
	return ws, nil
}

func (t *pageTx) DeletePages(ctx context.Context, structureID int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM website_pages WHERE website_structure_id = $1", structureID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pages of structure %d: %w", structureID, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted pages of structure %d: %w", structureID, err)
	}
	return int(deleted), nil
}

// InsertPage wraps the insert in a savepoint so a refused row is undone without aborting the
// surrounding transaction.
func (t *pageTx) InsertPage(ctx context.Context, page *model.PageRecord) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT page_row"); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	_, insertErr := t.tx.ExecContext(ctx, `INSERT INTO website_pages (
			website_structure_id, url, path, title, page_type, bi_classification,
			business_value_tier, intelligence_value, last_modified, priority, change_frequency, depth
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		page.StructureID, page.URL, page.Path, page.Title, page.PageType, page.Category,
		page.Tier, page.IntelligenceValue, nullString(page.LastModified), page.Priority,
		nullString(page.ChangeFreq), page.Depth)
	if insertErr == nil {
		if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT page_row"); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		return nil
	}

	// A failed rollback means the transaction itself is broken, not the row.
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT page_row"); err != nil {
		return fmt.Errorf("failed to rollback to savepoint after %v: %w", insertErr, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("page insert interrupted: %w", ctx.Err())
	}
	var pqErr *pq.Error
	if errors.As(insertErr, &pqErr) {
		slog.Debug("page row refused by postgres.", slog.String("url", page.URL),
			slog.String("code", string(pqErr.Code)), slog.String("condition", pqErr.Code.Name()))
	}
	return fmt.Errorf("%w: %s: %w", ErrRowRejected, page.URL, insertErr)
}

func (t *pageTx) UpdateStructure(ctx context.Context, structureID int64, totalPages int, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE website_structures SET total_pages = $1, updated_at = $2 WHERE id = $3",
		totalPages, updatedAt, structureID)
	if err != nil {
		return fmt.Errorf("failed to update structure %d: %w", structureID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("structure %d: %w", structureID, ErrNotFound)
	}
	return nil
}

func scanStructure(row *sql.Row) (*model.WebsiteStructure, error) {
	var ws model.WebsiteStructure
	var updatedAt sql.NullTime
	err := row.Scan(&ws.ID, &ws.CompanyID, &ws.Domain, &ws.TotalPages, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("website structure: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan website structure: %w", err)
	}
	ws.UpdatedAt = updatedAt.Time
	return &ws, nil
}

func scanPage(rows *sql.Rows) (*model.PageRecord, error) {
	var p model.PageRecord
	var title, pageType, category, intelligence, lastMod, changeFreq sql.NullString
	var tier, depth sql.NullInt64
	var priority sql.NullFloat64
	err := rows.Scan(&p.ID, &p.StructureID, &p.URL, &p.Path, &title, &pageType, &category,
		&tier, &intelligence, &lastMod, &priority, &changeFreq, &depth)
	if err != nil {
		return nil, fmt.Errorf("failed to scan page: %w", err)
	}
	p.Title = title.String
	p.PageType = pageType.String
	p.Category = category.String
	p.Tier = int(tier.Int64)
	p.IntelligenceValue = intelligence.String
	p.LastModified = lastMod.String
	p.ChangeFreq = changeFreq.String
	p.Depth = int(depth.Int64)
	if priority.Valid {
		v := priority.Float64
		p.Priority = &v
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
