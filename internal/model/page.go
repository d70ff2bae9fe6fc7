package model

import "time"

// SitemapEntry is a content URL read from a sitemap document, before classification.
type SitemapEntry struct {
	URL          string   `json:"url"`
	Path         string   `json:"path"`
	Title        string   `json:"title"`
	LastModified string   `json:"last_modified,omitempty"`
	Priority     *float64 `json:"priority,omitempty"`
	ChangeFreq   string   `json:"change_frequency,omitempty"`
	Depth        int      `json:"depth"`
}

// Classification is the business-intelligence verdict for a single page.
type Classification struct {
	Category          string `json:"bi_classification"`
	Tier              int    `json:"business_value_tier"`
	IntelligenceValue string `json:"intelligence_value"`
}

const (
	CategoryUnclassified = "unclassified"
	TierUnclassified     = 7
	PageTypeOther        = "other"
)

// PageTypeTag is the page-type tag stored next to the classification.
func (c Classification) PageTypeTag() string {
	if c.Category == CategoryUnclassified || c.Category == "" {
		return PageTypeOther
	}
	return c.Category
}

// PageRecord is a classified page as it is stored for a website structure.
type PageRecord struct {
	ID          int64 `json:"id,omitempty"`
	StructureID int64 `json:"website_structure_id"`
	SitemapEntry
	PageType string `json:"page_type"`
	Classification
}

// WebsiteStructure aggregates the stored pages of one company website.
type WebsiteStructure struct {
	ID         int64     `json:"id"`
	CompanyID  int64     `json:"company_id"`
	Domain     string    `json:"domain"`
	TotalPages int       `json:"total_pages"`
	UpdatedAt  time.Time `json:"updated_at"`
}
