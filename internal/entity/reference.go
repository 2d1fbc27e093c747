package entity

import (
	"time"

	"github.com/user/document-ingestion/pkg/utils"
)

// DocumentReference identifies one document at a source. It is immutable once created.
type DocumentReference struct {
	URL    string `json:"url"`
	Host   string `json:"host"`
	Parent string `json:"parent,omitempty"`
	// Source names the configured source (data set) the reference came from.
	Source string `json:"source,omitempty"`
	// Force bypasses the already-ingested check, e.g. for listing pages that are re-read on refresh.
	Force bool `json:"force,omitempty"`
}

// NewReference normalizes rawURL and builds a reference.
func NewReference(rawURL, source, parent string) (DocumentReference, error) {
	normalized, err := utils.NormalizeURL(rawURL)
	if err != nil {
		return DocumentReference{}, err
	}
	return DocumentReference{
		URL:    normalized,
		Host:   utils.Hostname(normalized),
		Parent: parent,
		Source: source,
	}, nil
}

// Key is the identity used for dedup and checkpoints.
func (r DocumentReference) Key() string {
	return r.URL
}

// Child builds a reference discovered inside r, inheriting its source.
func (r DocumentReference) Child(rawURL string) (DocumentReference, error) {
	return NewReference(rawURL, r.Source, r.URL)
}

// FetchResult is the raw response for one fetch. It is never persisted.
type FetchResult struct {
	Reference   DocumentReference
	Body        []byte
	StatusCode  int
	ContentType string
	FetchedAt   time.Time
	Duration    time.Duration
}
