package parser

import (
	"bytes"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/document-ingestion/internal/entity"
)

// Pager markup seen on the disclosure listings, plus the generic rel=next.
const nextPageSelector = `a[rel="next"], li.pager__item--next a, .pager-next a`

var dateMetaSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[name="dcterms.date"]`,
	`meta[name="dcterms.issued"]`,
	`meta[name="date"]`,
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"01/02/2006",
}

// parseHTML fills title and publication date and returns the PDF links on the
// page plus the next listing page. The next page is only followed while the
// current page still lists PDFs.
func parseHTML(result *entity.FetchResult, fields *entity.ExtractedFields) []entity.DocumentReference {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		degrade(fields, "parse html: "+err.Error())
		return nil
	}

	fields.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if fields.Title == "" {
		fields.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if t, ok := publishedAt(doc); ok {
		fields.PublishedAt = &t
	}

	base, err := url.Parse(result.Reference.URL)
	if err != nil {
		degrade(fields, "invalid page url")
		return nil
	}

	parent := result.Reference
	seen := map[string]bool{parent.Key(): true}
	var children []entity.DocumentReference
	add := func(href string, force bool) bool {
		child, ok := resolve(parent, base, href)
		if !ok || seen[child.Key()] {
			return false
		}
		seen[child.Key()] = true
		child.Force = force
		children = append(children, child)
		return true
	}

	pdfs := 0
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if isPDFLink(href) && add(href, false) {
			pdfs++
		}
	})

	if pdfs > 0 {
		if href, ok := doc.Find(nextPageSelector).First().Attr("href"); ok {
			// A refreshed listing keeps refreshing its later pages.
			add(href, parent.Force)
		}
	}
	return children
}

func resolve(parent entity.DocumentReference, base *url.URL, href string) (entity.DocumentReference, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return entity.DocumentReference{}, false
	}
	rel, err := url.Parse(href)
	if err != nil {
		return entity.DocumentReference{}, false
	}
	child, err := parent.Child(base.ResolveReference(rel).String())
	if err != nil {
		return entity.DocumentReference{}, false
	}
	return child, true
}

func isPDFLink(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

func publishedAt(doc *goquery.Document) (time.Time, bool) {
	candidates := make([]string, 0, len(dateMetaSelectors)+1)
	for _, sel := range dateMetaSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			candidates = append(candidates, v)
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, v)
	}

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
