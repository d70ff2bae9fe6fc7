// Package persistencetest provides an in-process SQL store with the table layout the persistence
// package expects, for use in tests.
package persistencetest

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// MaxURLLength is the longest page url the test store accepts.
const MaxURLLength = 2048

var schema = []string{
	`CREATE TABLE companies (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		name      TEXT NOT NULL,
		website   TEXT,
		employees INTEGER
	)`,
	`CREATE TABLE website_structures (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id  INTEGER NOT NULL REFERENCES companies (id),
		domain      TEXT NOT NULL,
		total_pages INTEGER NOT NULL DEFAULT 0,
		updated_at  TIMESTAMP
	)`,
	fmt.Sprintf(`CREATE TABLE website_pages (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		website_structure_id INTEGER NOT NULL REFERENCES website_structures (id),
		url                  TEXT NOT NULL CHECK (length(url) <= %d),
		path                 TEXT NOT NULL,
		title                TEXT,
		page_type            TEXT,
		bi_classification    TEXT,
		business_value_tier  INTEGER CHECK (business_value_tier BETWEEN 1 AND 7),
		intelligence_value   TEXT,
		last_modified        TEXT,
		priority             REAL,
		change_frequency     TEXT,
		depth                INTEGER,
		UNIQUE (website_structure_id, url)
	)`, MaxURLLength),
	`CREATE INDEX idx_website_pages_structure ON website_pages (website_structure_id)`,
}

// Open creates a file-backed database in the test's temp dir. WAL mode lets readers run next to a
// writing transaction; write transactions take the lock up front and wait for each other.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "store.db") +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)" +
		"&_txlock=immediate&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range schema {
		_, err = db.Exec(stmt)
		require.NoError(t, err, strings.SplitN(strings.TrimSpace(stmt), "(", 2)[0])
	}
	return db
}

func InsertCompany(t testing.TB, db *sql.DB, name, website string, employees int) int64 {
	t.Helper()
	var emp any
	if employees > 0 {
		emp = employees
	}
	res, err := db.Exec("INSERT INTO companies (name, website, employees) VALUES ($1, $2, $3)", name, website, emp)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func InsertStructure(t testing.TB, db *sql.DB, companyID int64, domain string, totalPages int) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO website_structures (company_id, domain, total_pages, updated_at)
		VALUES ($1, $2, $3, $4)`, companyID, domain, totalPages, time.Now().UTC())
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// InsertPages stores urls for a structure the way the old recorder did: path and title only.
func InsertPages(t testing.TB, db *sql.DB, structureID int64, urls ...string) {
	t.Helper()
	for _, u := range urls {
		_, err := db.Exec(`INSERT INTO website_pages (website_structure_id, url, path, title, page_type)
			VALUES ($1, $2, $3, $4, $5)`, structureID, u, "/", "Page", model.PageTypeOther)
		require.NoError(t, err)
	}
}

func CountPages(t testing.TB, db *sql.DB, structureID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM website_pages WHERE website_structure_id = $1",
		structureID).Scan(&n))
	return n
}

func TotalPages(t testing.TB, db *sql.DB, structureID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT total_pages FROM website_structures WHERE id = $1",
		structureID).Scan(&n))
	return n
}
