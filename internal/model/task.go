package model

import "time"

// DiscoveryTask is a queued request to (re)discover the pages of one company.
// Expected message format: {"company_id": 42, "domain": "example.com", "priority": 5}
type DiscoveryTask struct {
	CompanyID int64  `json:"company_id"`
	Domain    string `json:"domain,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

type DiscoveryStatus string

const (
	StatusSucceeded         DiscoveryStatus = "succeeded"
	StatusInsufficientYield DiscoveryStatus = "insufficient_yield"
	StatusFailed            DiscoveryStatus = "failed"
)

// DiscoveryReport is the outcome of one company discovery. It is published to kafka
// and aggregated into the batch summary.
type DiscoveryReport struct {
	CompanyID    int64           `json:"company_id"`
	CompanyName  string          `json:"company_name,omitempty"`
	Domain       string          `json:"domain"`
	Status       DiscoveryStatus `json:"status"`
	SitemapFound bool            `json:"sitemap_found"`
	SitemapURL   string          `json:"sitemap_url,omitempty"`
	Discovered   int             `json:"discovered"`
	Inserted     int             `json:"inserted"`
	Rejected     int             `json:"rejected"`
	PagesBefore  int             `json:"pages_before"`
	PagesAfter   int             `json:"pages_after"`
	Error        string          `json:"error,omitempty"`
	Duration     time.Duration   `json:"duration"`
	FinishedAt   time.Time       `json:"finished_at"`
}
