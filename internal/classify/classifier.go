package classify

import (
	"strings"

	"github.com/IliaW/sitemap-intel/internal/model"
)

// Classifier applies an ordered taxonomy. It holds no mutable state and is safe to share
// between workers.
type Classifier struct {
	rules []Rule
}

// New copies the rules and lowercases their patterns.
func New(rules []Rule) *Classifier {
	c := &Classifier{rules: make([]Rule, len(rules))}
	for i, r := range rules {
		c.rules[i] = Rule{
			Category:          r.Category,
			Tier:              r.Tier,
			IntelligenceValue: r.IntelligenceValue,
			URLPatterns:       lowerAll(r.URLPatterns),
			TitlePatterns:     lowerAll(r.TitlePatterns),
		}
	}
	return c
}

// Rules returns a copy of the table in precedence order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		r.URLPatterns = append([]string(nil), r.URLPatterns...)
		r.TitlePatterns = append([]string(nil), r.TitlePatterns...)
		out[i] = r
	}
	return out
}

// Classify returns the classification of the first rule whose url patterns, then title
// patterns, match. The scheme is cut from the url so that a host like "newsroom.com" cannot
// satisfy a "/news" pattern.
func (c *Classifier) Classify(url, title string) model.Classification {
	u := strings.ToLower(url)
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	t := strings.ToLower(title)

	for _, r := range c.rules {
		if containsAny(u, r.URLPatterns) || containsAny(t, r.TitlePatterns) {
			return model.Classification{Category: r.Category, Tier: r.Tier, IntelligenceValue: r.IntelligenceValue}
		}
	}
	return Unclassified
}

// ClassifyEntry attaches a classification to a sitemap entry.
func (c *Classifier) ClassifyEntry(entry model.SitemapEntry) *model.PageRecord {
	cl := c.Classify(entry.URL, entry.Title)
	return &model.PageRecord{
		SitemapEntry:   entry,
		PageType:       cl.PageTypeTag(),
		Classification: cl,
	}
}

func (c *Classifier) ClassifyEntries(entries []model.SitemapEntry) []*model.PageRecord {
	pages := make([]*model.PageRecord, 0, len(entries))
	for _, e := range entries {
		pages = append(pages, c.ClassifyEntry(e))
	}
	return pages
}

func containsAny(s string, patterns []string) bool {
	if s == "" {
		return false
	}
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
