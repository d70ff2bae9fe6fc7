package model

import (
	"net"
	"strings"
)

type Company struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Website     string `json:"website"`
	Domain      string `json:"domain"`
	Employees   int    `json:"employees,omitempty"`
	StoredPages int    `json:"stored_pages"`
}

// DomainFromWebsite reduces a website value like "https://www.Example.com/home" to "example.com".
func DomainFromWebsite(website string) string {
	d := strings.ToLower(strings.TrimSpace(website))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}
