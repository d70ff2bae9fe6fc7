package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IliaW/sitemap-intel/internal/model"
)

// CompanyStorage selects the companies whose pages need (re)discovery.
type CompanyStorage interface {
	SitemapPolluted(ctx context.Context, limit int) ([]*model.Company, error)
	NeverDiscovered(ctx context.Context, limit int) ([]*model.Company, error)
	CompanyByID(ctx context.Context, id int64) (*model.Company, error)
}

type CompanyRepository struct {
	db *sql.DB
}

func NewCompanyRepository(db *sql.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// SitemapPolluted returns companies whose stored pages look like sitemap files instead of content,
// biggest employers first, then the ones with the fewest stored pages. A limit <= 0 means no limit.
func (r *CompanyRepository) SitemapPolluted(ctx context.Context, limit int) ([]*model.Company, error) {
	query := `SELECT c.id, c.name, c.website, c.employees, ws.domain, ws.total_pages
		FROM companies c
		JOIN website_structures ws ON ws.company_id = c.id
		WHERE EXISTS (
			SELECT 1 FROM website_pages wp
			WHERE wp.website_structure_id = ws.id
			  AND (LOWER(wp.url) LIKE '%sitemap%' OR LOWER(wp.url) LIKE '%.xml%')
		)
		ORDER BY c.employees DESC NULLS LAST, ws.total_pages ASC, c.id ASC`
	return r.selectCompanies(ctx, query, limit)
}

// NeverDiscovered returns companies with a website and no website structure yet.
func (r *CompanyRepository) NeverDiscovered(ctx context.Context, limit int) ([]*model.Company, error) {
	query := `SELECT c.id, c.name, c.website, c.employees, NULL, 0
		FROM companies c
		WHERE c.website IS NOT NULL AND c.website <> ''
		  AND NOT EXISTS (SELECT 1 FROM website_structures ws WHERE ws.company_id = c.id)
		ORDER BY c.employees DESC NULLS LAST, c.id ASC`
	return r.selectCompanies(ctx, query, limit)
}

func (r *CompanyRepository) CompanyByID(ctx context.Context, id int64) (*model.Company, error) {
	row := r.db.QueryRowContext(ctx, `SELECT c.id, c.name, c.website, c.employees, ws.domain,
			COALESCE(ws.total_pages, 0)
		FROM companies c
		LEFT JOIN website_structures ws ON ws.company_id = c.id
		WHERE c.id = $1
		ORDER BY ws.id
		LIMIT 1`, id)
	company, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("company %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return company, nil
}

func (r *CompanyRepository) selectCompanies(ctx context.Context, query string, limit int) ([]*model.Company, error) {
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select companies: %w", err)
	}
	defer func(rows *sql.Rows) {
		err = rows.Close()
		if err != nil {
			slog.Error("failed to close rows.", slog.String("err", err.Error()))
		}
	}(rows)

	var companies []*model.Company
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		if company.Domain == "" {
			slog.Warn("company without a usable website skipped.", slog.Int64("company_id", company.ID),
				slog.String("website", company.Website))
			continue
		}
		companies = append(companies, company)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read companies: %w", err)
	}
	slog.Debug("companies selected.", slog.Int("size", len(companies)))
	return companies, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCompany prefers the domain already stored for the website structure and derives one from the
// website otherwise.
func scanCompany(row rowScanner) (*model.Company, error) {
	var c model.Company
	var name, website, domain sql.NullString
	var employees sql.NullInt64
	var storedPages sql.NullInt64
	if err := row.Scan(&c.ID, &name, &website, &employees, &domain, &storedPages); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan company: %w", err)
	}
	c.Name = name.String
	c.Website = website.String
	c.Employees = int(employees.Int64)
	c.StoredPages = int(storedPages.Int64)
	c.Domain = model.DomainFromWebsite(domain.String)
	if c.Domain == "" {
		c.Domain = model.DomainFromWebsite(c.Website)
	}
	return &c, nil
}
