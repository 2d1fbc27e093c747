package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/user/document-ingestion/internal/entity"
)

// parsePDF reads page count, title and creation date. The pdf library panics
// on some malformed files; those become a degraded result.
func parsePDF(body []byte, fields *entity.ExtractedFields) {
	defer func() {
		if r := recover(); r != nil {
			degrade(fields, fmt.Sprintf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		degrade(fields, "open pdf: "+err.Error())
		return
	}

	fields.PageCount = reader.NumPage()
	if fields.PageCount == 0 {
		degrade(fields, "pdf has no pages")
	}

	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	fields.Title = strings.TrimSpace(info.Key("Title").Text())
	if t, ok := parsePDFDate(info.Key("CreationDate").Text()); ok {
		fields.PublishedAt = &t
	}
}

// parsePDFDate parses the PDF date format D:YYYYMMDDHHmmSSOHH'mm'.
// Trailing date components may be omitted.
func parsePDFDate(s string) (time.Time, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 4 {
		return time.Time{}, false
	}

	digits := s
	zone := ""
	if i := strings.IndexAny(s, "Z+-"); i >= 0 {
		digits, zone = s[:i], s[i:]
	}
	layout := "20060102150405"
	if len(digits) > len(layout) || len(digits)%2 != 0 {
		return time.Time{}, false
	}

	loc := time.UTC
	if zone != "" && zone[0] != 'Z' {
		z := strings.ReplaceAll(zone[1:], "'", "")
		var offset int
		if len(z) >= 2 {
			h, _ := strconv.Atoi(z[:2])
			offset = h * 3600
		}
		if len(z) >= 4 {
			m, _ := strconv.Atoi(z[2:4])
			offset += m * 60
		}
		if zone[0] == '-' {
			offset = -offset
		}
		loc = time.FixedZone("", offset)
	}

	t, err := time.ParseInLocation(layout[:len(digits)], digits, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
