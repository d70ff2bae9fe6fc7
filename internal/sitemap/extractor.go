package sitemap

import (
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/IliaW/sitemap-intel/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var markupExtensions = []string{".html", ".htm", ".php", ".aspx", ".asp", ".jsp"}

var segmentSeparators = strings.NewReplacer("-", " ", "_", " ")

// Extract parses one sitemap document and returns its content entries for the domain.
// A malformed document yields no entries and an error wrapping ErrParse.
func Extract(body []byte, domain string) ([]model.SitemapEntry, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	return extractEntries(doc, domain), nil
}

func extractEntries(doc *document, domain string) []model.SitemapEntry {
	entries := make([]model.SitemapEntry, 0, len(doc.urls))
	skipped := 0
	for _, u := range doc.urls {
		entry, ok := EntryFromURL(u.Loc, domain)
		if !ok {
			skipped++
			continue
		}
		entry.LastModified = strings.TrimSpace(u.LastMod)
		entry.ChangeFreq = strings.ToLower(strings.TrimSpace(u.ChangeFreq))
		if p, err := strconv.ParseFloat(strings.TrimSpace(u.Priority), 64); err == nil {
			entry.Priority = &p
		}
		entries = append(entries, entry)
	}
	if skipped > 0 {
		slog.Debug("non-content urls skipped.", slog.String("domain", domain), slog.Int("skipped", skipped))
	}
	return entries
}

// EntryFromURL builds an entry for a content page. It reports false for urls outside the
// domain and for urls that reference sitemap documents.
func EntryFromURL(raw, domain string) (model.SitemapEntry, bool) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.SitemapEntry{}, false
	}
	if !HostBelongsTo(u.Host, domain) || referencesSitemap(raw, u) {
		return model.SitemapEntry{}, false
	}

	segments := pathSegments(u.Path)
	return model.SitemapEntry{
		URL:   raw,
		Path:  pagePath(u),
		Title: titleFromSegments(segments),
		Depth: len(segments),
	}, true
}

// HostBelongsTo reports whether host is the domain itself or one of its subdomains.
// Ports and a leading "www." on either side are ignored.
func HostBelongsTo(host, domain string) bool {
	h := bareHost(host)
	d := bareHost(domain)
	if h == "" || d == "" {
		return false
	}
	return h == d || strings.HasSuffix(h, "."+d)
}

func bareHost(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	s = strings.TrimSuffix(s, ".")
	return strings.TrimPrefix(s, "www.")
}

func referencesSitemap(raw string, u *url.URL) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "sitemap") ||
		strings.HasSuffix(lower, ".xml") ||
		strings.HasSuffix(strings.ToLower(u.Path), ".xml")
}

// pagePath is the url with scheme and host stripped.
func pagePath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func pathSegments(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func titleFromSegments(segments []string) string {
	if len(segments) == 0 {
		return "Home"
	}
	last := segments[len(segments)-1]
	lower := strings.ToLower(last)
	for _, ext := range markupExtensions {
		if strings.HasSuffix(lower, ext) {
			last = last[:len(last)-len(ext)]
			break
		}
	}
	last = strings.Join(strings.Fields(segmentSeparators.Replace(last)), " ")
	if last == "" {
		return "Page"
	}
	// Caser is stateful and must not be shared between goroutines.
	return cases.Title(language.English).String(last)
}
