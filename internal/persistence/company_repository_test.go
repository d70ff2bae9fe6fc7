package persistence

import (
	"context"
	"testing"

	"github.com/IliaW/sitemap-intel/internal/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyRepository_SitemapPolluted(t *testing.T) {
	db := persistencetest.Open(t)
	repo := NewCompanyRepository(db)

	small := persistencetest.InsertCompany(t, db, "Small", "https://small.com", 10)
	persistencetest.InsertPages(t, db, persistencetest.InsertStructure(t, db, small, "small.com", 1),
		"https://small.com/sitemap-pages.xml")

	bigMany := persistencetest.InsertCompany(t, db, "Big Many", "https://bigmany.com", 500)
	persistencetest.InsertPages(t, db, persistencetest.InsertStructure(t, db, bigMany, "bigmany.com", 3),
		"https://bigmany.com/post-sitemap.xml", "https://bigmany.com/page-sitemap.xml", "https://bigmany.com/about")

	bigFew := persistencetest.InsertCompany(t, db, "Big Few", "https://bigfew.com", 500)
	persistencetest.InsertPages(t, db, persistencetest.InsertStructure(t, db, bigFew, "bigfew.com", 1),
		"https://bigfew.com/feed.XML")

	unknown := persistencetest.InsertCompany(t, db, "Unknown", "https://www.unknown.com/home", 0)
	persistencetest.InsertPages(t, db, persistencetest.InsertStructure(t, db, unknown, "", 1),
		"https://unknown.com/SITEMAP_index")

	clean := persistencetest.InsertCompany(t, db, "Clean", "https://clean.com", 1000)
	persistencetest.InsertPages(t, db, persistencetest.InsertStructure(t, db, clean, "clean.com", 2),
		"https://clean.com/careers", "https://clean.com/about")

	persistencetest.InsertCompany(t, db, "Never", "https://never.com", 5)

	companies, err := repo.SitemapPolluted(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, companies, 4)
	assert.Equal(t, []int64{bigFew, bigMany, small, unknown},
		[]int64{companies[0].ID, companies[1].ID, companies[2].ID, companies[3].ID})
	assert.Equal(t, "bigfew.com", companies[0].Domain)
	assert.Equal(t, 1, companies[0].StoredPages)
	assert.Equal(t, 500, companies[0].Employees)
	assert.Equal(t, "unknown.com", companies[3].Domain, "falls back to the website")

	limited, err := repo.SitemapPolluted(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCompanyRepository_NeverDiscovered(t *testing.T) {
	db := persistencetest.Open(t)
	repo := NewCompanyRepository(db)

	done := persistencetest.InsertCompany(t, db, "Done", "https://done.com", 10)
	persistencetest.InsertStructure(t, db, done, "done.com", 10)
	fresh := persistencetest.InsertCompany(t, db, "Fresh", "http://www.Fresh.io/", 20)
	persistencetest.InsertCompany(t, db, "No Website", "", 30)

	companies, err := repo.NeverDiscovered(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, fresh, companies[0].ID)
	assert.Equal(t, "fresh.io", companies[0].Domain)
	assert.Equal(t, 0, companies[0].StoredPages)
}

func TestCompanyRepository_CompanyByID(t *testing.T) {
	db := persistencetest.Open(t)
	repo := NewCompanyRepository(db)
	ctx := context.Background()

	id := persistencetest.InsertCompany(t, db, "Acme", "https://acme.com/en", 0)
	company, err := repo.CompanyByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", company.Name)
	assert.Equal(t, "acme.com", company.Domain)
	assert.Equal(t, 0, company.StoredPages)

	persistencetest.InsertStructure(t, db, id, "acme.com", 7)
	company, err = repo.CompanyByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 7, company.StoredPages)

	_, err = repo.CompanyByID(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}
