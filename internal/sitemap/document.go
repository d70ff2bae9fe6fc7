package sitemap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

var ErrParse = errors.New("malformed sitemap document")

type Kind int

const (
	KindUnknown Kind = iota
	KindDirect
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

type xmlURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	Priority   string `xml:"priority"`
	ChangeFreq string `xml:"changefreq"`
}

type xmlSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

// document is a decoded sitemap. Only one of urls/sitemaps is expected to be populated,
// but both are kept so that mixed documents are not silently dropped.
type document struct {
	root     string
	urls     []xmlURL
	sitemaps []xmlSitemap
}

func (d *document) kind() Kind {
	if d.root == "sitemapindex" || len(d.sitemaps) > 0 {
		return KindIndex
	}
	return KindDirect
}

// parseDocument streams the body and collects <url> and <sitemap> elements regardless of
// their namespace prefix.
func parseDocument(body []byte) (*document, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.CharsetReader = charset.NewReaderLabel
	doc := &document{}

	for {
		t, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrParse, err.Error())
		}

		se, ok := t.(xml.StartElement)
		if !ok {
			continue
		}
		if doc.root == "" {
			doc.root = strings.ToLower(se.Name.Local)
		}
		switch strings.ToLower(se.Name.Local) {
		case "url":
			var entry xmlURL
			if err = decoder.DecodeElement(&entry, &se); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrParse, err.Error())
			}
			doc.urls = append(doc.urls, entry)
		case "sitemap":
			var entry xmlSitemap
			if err = decoder.DecodeElement(&entry, &se); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrParse, err.Error())
			}
			doc.sitemaps = append(doc.sitemaps, entry)
		}
	}

	if doc.root == "" {
		return nil, fmt.Errorf("%w: no root element", ErrParse)
	}
	return doc, nil
}
