// Package parser extracts best-effort fields and follow-on references from fetched payloads.
package parser

import (
	"bytes"
	"mime"
	"net/http"
	"strings"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/utils"
)

// Parser dispatches on content type. It never returns an error: anything it
// cannot read is reported through ExtractedFields.Incomplete.
type Parser struct{}

// New creates a parser.
func New() *Parser {
	return &Parser{}
}

// Parse extracts fields from result and any child references found in it.
func (p *Parser) Parse(result *entity.FetchResult) (entity.ExtractedFields, []entity.DocumentReference) {
	contentType := mediaType(result.ContentType, result.Body)
	fields := entity.ExtractedFields{
		ContentType: contentType,
		FileName:    utils.FileName(result.Reference.URL),
		SizeBytes:   int64(len(result.Body)),
	}

	switch {
	case isPDF(contentType, result.Body):
		parsePDF(result.Body, &fields)
		return fields, nil
	case strings.Contains(contentType, "html"):
		children := parseHTML(result, &fields)
		return fields, children
	default:
		fields.Incomplete = true
		fields.IncompleteReason = "no parser for content type " + contentType
		return fields, nil
	}
}

func mediaType(header string, body []byte) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	return mt
}

func isPDF(contentType string, body []byte) bool {
	return contentType == "application/pdf" || bytes.HasPrefix(body, []byte("%PDF-"))
}

func degrade(fields *entity.ExtractedFields, reason string) {
	fields.Incomplete = true
	if fields.IncompleteReason == "" {
		fields.IncompleteReason = reason
	}
}
