package entity

import (
	"time"

	"github.com/user/document-ingestion/pkg/digest"
)

// DocumentStatusStored is the only status the pipeline writes: the record
// exists because its object is durably present.
const DocumentStatusStored = "stored"

// ExtractedFields are the best-effort structured fields of a document.
// Incomplete marks a degraded parse; the raw bytes are still stored.
type ExtractedFields struct {
	Title            string     `json:"title,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	PageCount        int        `json:"page_count,omitempty"`
	ContentType      string     `json:"content_type,omitempty"`
	FileName         string     `json:"file_name,omitempty"`
	SizeBytes        int64      `json:"size_bytes"`
	Incomplete       bool       `json:"incomplete,omitempty"`
	IncompleteReason string     `json:"incomplete_reason,omitempty"`
}

// SourceLink is one reference that resolved to a document.
type SourceLink struct {
	URL          string    `json:"url"`
	Host         string    `json:"host"`
	Parent       string    `json:"parent,omitempty"`
	Source       string    `json:"source,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// DocumentRecord mirrors the `documents` table plus its `document_references` rows.
type DocumentRecord struct {
	Digest         digest.Digest   `json:"digest"`
	ObjectKey      string          `json:"object_key"`
	Status         string          `json:"status"`
	Fields         ExtractedFields `json:"fields"`
	References     []SourceLink    `json:"references"`
	FirstSeenAt    time.Time       `json:"first_seen_at"`
	LastVerifiedAt time.Time       `json:"last_verified_at"`
}

// CommitRequest is everything the metadata committer writes for one reference.
type CommitRequest struct {
	Digest    digest.Digest
	Reference DocumentReference
	Fields    ExtractedFields
	ObjectKey string
	At        time.Time
}

// Link converts the request's reference into a SourceLink.
func (c CommitRequest) Link() SourceLink {
	return SourceLink{
		URL:          c.Reference.URL,
		Host:         c.Reference.Host,
		Parent:       c.Reference.Parent,
		Source:       c.Reference.Source,
		DiscoveredAt: c.At,
	}
}
