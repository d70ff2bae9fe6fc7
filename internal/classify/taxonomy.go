package classify

import "github.com/IliaW/sitemap-intel/internal/model"

// Rule maps url and title substrings to a business-intelligence category.
type Rule struct {
	Category          string
	Tier              int
	IntelligenceValue string
	URLPatterns       []string
	TitlePatterns     []string
}

const UnknownIntelligenceValue = "Unknown business intelligence value"

// Unclassified is returned when no rule matches.
var Unclassified = model.Classification{
	Category:          model.CategoryUnclassified,
	Tier:              model.TierUnclassified,
	IntelligenceValue: UnknownIntelligenceValue,
}

// DefaultTaxonomy returns a fresh copy of the ordered rule table. Order is the precedence:
// the first matching rule wins even when a later rule would be more specific.
func DefaultTaxonomy() []Rule {
	return []Rule{
		// Tier 1: critical
		{
			Category:          "careers",
			Tier:              1,
			IntelligenceValue: "Hiring activity, growth indicators, business expansion signals",
			URLPatterns:       []string{"/careers", "/jobs", "/employment", "/opportunities", "/hiring", "/work-with-us", "/join-us"},
			TitlePatterns:     []string{"careers", "jobs", "employment", "opportunities", "join us", "work with us", "hiring", "open positions"},
		},
		{
			Category:          "services",
			Tier:              1,
			IntelligenceValue: "Revenue streams, core competencies, competitive positioning",
			URLPatterns:       []string{"/services", "/solutions", "/offerings", "/capabilities", "/expertise", "/what-we-do"},
			TitlePatterns:     []string{"services", "solutions", "what we do", "capabilities", "offerings", "expertise"},
		},
		{
			Category:          "products",
			Tier:              1,
			IntelligenceValue: "Product portfolio, market focus, innovation pipeline",
			URLPatterns:       []string{"/products", "/catalog", "/portfolio", "/brands", "/shop"},
			TitlePatterns:     []string{"products", "catalog", "portfolio", "brands", "offerings", "shop"},
		},
		{
			Category:          "about",
			Tier:              1,
			IntelligenceValue: "Mission, history, size, business model, values",
			URLPatterns:       []string{"/about", "/company", "/who-we-are", "/overview", "/our-story"},
			TitlePatterns:     []string{"about", "company", "who we are", "overview", "our story", "about us"},
		},
		// Tier 2: high value
		{
			Category:          "team",
			Tier:              2,
			IntelligenceValue: "Leadership depth, expertise, company culture, decision makers",
			URLPatterns:       []string{"/team", "/leadership", "/people", "/staff", "/management", "/executives", "/board", "/founders"},
			TitlePatterns:     []string{"team", "leadership", "people", "staff", "management", "executives", "our team", "meet the team", "board of directors", "founders"},
		},
		{
			Category:          "news",
			Tier:              2,
			IntelligenceValue: "Market activity, thought leadership, PR activity, company momentum",
			URLPatterns:       []string{"/news", "/blog", "/insights", "/updates", "/press", "/media", "/articles", "/resources"},
			TitlePatterns:     []string{"news", "blog", "insights", "updates", "press releases", "media", "articles", "thought leadership", "resources"},
		},
		// Tier 3: operations
		{
			Category:          "locations",
			Tier:              3,
			IntelligenceValue: "Market reach, geographic expansion, operational footprint",
			URLPatterns:       []string{"/locations", "/offices", "/facilities", "/branches", "/stores", "/find-us"},
			TitlePatterns:     []string{"locations", "offices", "facilities", "branches", "stores", "find us", "where we are"},
		},
		{
			Category:          "contact",
			Tier:              3,
			IntelligenceValue: "Geographic presence, contact channels, business accessibility",
			URLPatterns:       []string{"/contact", "/reach-us", "/get-in-touch", "/connect"},
			TitlePatterns:     []string{"contact", "reach us", "get in touch", "contact us", "connect"},
		},
		// Tier 4: market
		{
			Category:          "case-studies",
			Tier:              4,
			IntelligenceValue: "Client quality, project scale, market positioning, success metrics",
			URLPatterns:       []string{"/case-studies", "/portfolio", "/work", "/projects", "/clients", "/success-stories", "/testimonials"},
			TitlePatterns:     []string{"case studies", "portfolio", "our work", "projects", "success stories", "client stories", "testimonials"},
		},
		{
			Category:          "industries",
			Tier:              4,
			IntelligenceValue: "Market segments, vertical expertise, industry positioning",
			URLPatterns:       []string{"/industries", "/sectors", "/markets", "/verticals", "/who-we-serve"},
			TitlePatterns:     []string{"industries", "sectors", "markets", "verticals", "who we serve", "market focus"},
		},
		// Tier 5: financial
		{
			Category:          "investors",
			Tier:              5,
			IntelligenceValue: "Financial health, public company status, growth metrics",
			URLPatterns:       []string{"/investors", "/investor-relations", "/financials", "/sec-filings", "/earnings"},
			TitlePatterns:     []string{"investors", "investor relations", "financials", "sec filings", "earnings"},
		},
		// Tier 6: administrative
		{
			Category:          "legal",
			Tier:              6,
			IntelligenceValue: "Compliance status (minimal business intelligence)",
			URLPatterns:       []string{"/terms", "/privacy", "/legal", "/compliance", "/gdpr", "/ccpa", "/cookies"},
			TitlePatterns:     []string{"terms", "privacy", "legal", "compliance", "gdpr", "ccpa", "cookie policy"},
		},
	}
}
