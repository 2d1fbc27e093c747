package catalog

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/config"
)

// Source kinds.
const (
	KindStatic   = "static"
	KindSequence = "sequence"
	KindListing  = "listing"
)

// Source is one configured seed set. Sources are fixed at configuration time.
type Source struct {
	Name string
	Kind string
	// URLs are the seeds for static and listing sources, and extra seeds for sequences.
	URLs     []string
	Pattern  string
	From, To int
	MaxPages int
}

// FromConfig converts configured sources, falling back to DefaultSources when none are set.
func FromConfig(cfgs []config.SourceConfig) []Source {
	if len(cfgs) == 0 {
		return DefaultSources()
	}
	out := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Source{
			Name:     c.Name,
			Kind:     c.Kind,
			URLs:     c.URLs,
			Pattern:  c.Pattern,
			From:     c.From,
			To:       c.To,
			MaxPages: c.MaxPages,
		})
	}
	return out
}

const justiceBase = "https://www.justice.gov/epstein"

// DefaultSources are the public Epstein document releases on justice.gov.
func DefaultSources() []Source {
	courtExtras := make([]string, 0, 5)
	for sub := 1; sub <= 5; sub++ {
		courtExtras = append(courtExtras, fmt.Sprintf("%s/court-records/1334-%d.pdf", justiceBase, sub))
	}

	sources := []Source{
		{
			Name:    "court-records",
			Kind:    KindSequence,
			Pattern: justiceBase + "/court-records/%03d.pdf",
			From:    1,
			To:      1334,
			URLs:    courtExtras,
		},
		{
			Name:    "foia",
			Kind:    KindSequence,
			Pattern: justiceBase + "/foia/Epstein%%20Records%%20%d.pdf",
			From:    1,
			To:      4,
		},
	}
	// Data sets 9 to 11 are published only as ZIP archives.
	for _, n := range []int{1, 2, 3, 4, 5, 6, 7, 8, 12} {
		sources = append(sources, Source{
			Name: "data-set-" + strconv.Itoa(n),
			Kind: KindListing,
			URLs: []string{fmt.Sprintf("%s/doj-disclosures/data-set-%d-files?page=0", justiceBase, n)},
		})
	}
	return sources
}

// Seeds expands the source into references. Listing seeds carry Force so a
// refresh re-reads them even though an earlier snapshot was ingested.
func (s Source) Seeds() ([]entity.DocumentReference, error) {
	var raw []string
	switch s.Kind {
	case KindStatic:
		raw = s.URLs
	case KindSequence:
		for i := s.From; i <= s.To; i++ {
			raw = append(raw, fmt.Sprintf(s.Pattern, i))
		}
		raw = append(raw, s.URLs...)
	case KindListing:
		for _, u := range s.URLs {
			if s.MaxPages <= 0 {
				raw = append(raw, u)
				continue
			}
			for page := 0; page < s.MaxPages; page++ {
				paged, err := withPage(u, page)
				if err != nil {
					return nil, errors.Wrapf(err, "source %s", s.Name)
				}
				raw = append(raw, paged)
			}
		}
	default:
		return nil, errors.Newf("source %s: unknown kind %q", s.Name, s.Kind)
	}

	refs := make([]entity.DocumentReference, 0, len(raw))
	for _, u := range raw {
		ref, err := entity.NewReference(u, s.Name, "")
		if err != nil {
			return nil, errors.Wrapf(err, "source %s: seed %q", s.Name, u)
		}
		ref.Force = s.Kind == KindListing
		refs = append(refs, ref)
	}
	return refs, nil
}

func withPage(rawURL string, page int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
