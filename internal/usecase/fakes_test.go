package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/digest"
	"github.com/user/document-ingestion/pkg/utils"
)

type fakePage struct {
	body        []byte
	contentType string
}

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]fakePage
	errs    map[string][]error
	calls   map[string]int
	block   map[string]bool
	started chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:   make(map[string]fakePage),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
		block:   make(map[string]bool),
		started: make(chan string, 16),
	}
}

func (f *fakeFetcher) page(url, body string) {
	f.pages[url] = fakePage{body: []byte(body), contentType: "application/pdf"}
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref entity.DocumentReference) (*entity.FetchResult, error) {
	f.mu.Lock()
	f.calls[ref.URL]++
	blocked := f.block[ref.URL]
	var queued error
	if errs := f.errs[ref.URL]; len(errs) > 0 {
		queued = errs[0]
		if len(errs) > 1 {
			f.errs[ref.URL] = errs[1:]
		}
	}
	p, ok := f.pages[ref.URL]
	f.mu.Unlock()

	if blocked {
		f.started <- ref.URL
		<-ctx.Done()
		return nil, entity.TransientFetchError(ref.URL, 0, ctx.Err())
	}
	if queued != nil {
		return nil, queued
	}
	if !ok {
		return nil, entity.PermanentFetchError(ref.URL, 404, nil)
	}
	return &entity.FetchResult{
		Reference:   ref,
		Body:        p.body,
		StatusCode:  200,
		ContentType: p.contentType,
		FetchedAt:   time.Now(),
	}, nil
}

func (f *fakeFetcher) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// fakeParser reports the configured children for a URL.
type fakeParser struct {
	children map[string][]string
}

func (p *fakeParser) Parse(res *entity.FetchResult) (entity.ExtractedFields, []entity.DocumentReference) {
	fields := entity.ExtractedFields{
		ContentType: res.ContentType,
		FileName:    utils.FileName(res.Reference.URL),
		SizeBytes:   int64(len(res.Body)),
	}
	var refs []entity.DocumentReference
	for _, u := range p.children[res.Reference.URL] {
		child, err := res.Reference.Child(u)
		if err == nil {
			refs = append(refs, child)
		}
	}
	return fields, refs
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErrs []error
	puts    int

	// existsDelay widens the window between the existence probe and the put.
	existsDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.putErrs) > 0 {
		err := s.putErrs[0]
		s.putErrs = s.putErrs[1:]
		return err
	}
	if _, ok := s.objects[key]; ok {
		return entity.ErrObjectExists
	}
	s.puts++
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	if s.existsDelay > 0 {
		time.Sleep(s.existsDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return b, nil
}

func (s *memStore) List(_ context.Context, prefix string, fn func(string) error) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type memAttempts struct {
	mu   sync.Mutex
	byID map[string]entity.IngestionAttempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{byID: make(map[string]entity.IngestionAttempt)}
}

func (m *memAttempts) Load(_ context.Context, key string) (*entity.IngestionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[key]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memAttempts) Save(_ context.Context, a *entity.IngestionAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[a.Reference.Key()] = *a
	return nil
}

func (m *memAttempts) get(key string) (entity.IngestionAttempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[key]
	return a, ok
}

type memDocuments struct {
	mu         sync.Mutex
	byDigest   map[digest.Digest]*entity.DocumentRecord
	insertErrs []error
	mergeErrs  []error
}

func newMemDocuments() *memDocuments {
	return &memDocuments{byDigest: make(map[digest.Digest]*entity.DocumentRecord)}
}

func (m *memDocuments) Insert(_ context.Context, req entity.CommitRequest) (*entity.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.insertErrs) > 0 {
		err := m.insertErrs[0]
		m.insertErrs = m.insertErrs[1:]
		return nil, err
	}
	if _, ok := m.byDigest[req.Digest]; ok {
		return nil, entity.ErrDigestExists
	}
	rec := &entity.DocumentRecord{
		Digest:         req.Digest,
		ObjectKey:      req.ObjectKey,
		Status:         entity.DocumentStatusStored,
		Fields:         req.Fields,
		References:     []entity.SourceLink{req.Link()},
		FirstSeenAt:    req.At,
		LastVerifiedAt: req.At,
	}
	m.byDigest[req.Digest] = rec
	return copyRecord(rec), nil
}

func (m *memDocuments) Merge(_ context.Context, req entity.CommitRequest) (*entity.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.mergeErrs) > 0 {
		err := m.mergeErrs[0]
		m.mergeErrs = m.mergeErrs[1:]
		return nil, err
	}
	rec, ok := m.byDigest[req.Digest]
	if !ok {
		return nil, entity.ErrNotFound
	}
	for _, l := range rec.References {
		if l.URL == req.Reference.URL {
			return copyRecord(rec), nil
		}
	}
	rec.References = append(rec.References, req.Link())
	rec.LastVerifiedAt = req.At
	return copyRecord(rec), nil
}

func (m *memDocuments) FindByDigest(_ context.Context, d digest.Digest) (*entity.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byDigest[d]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *memDocuments) FindByReference(_ context.Context, url string) (*entity.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byDigest {
		for _, l := range rec.References {
			if l.URL == url {
				return copyRecord(rec), nil
			}
		}
	}
	return nil, entity.ErrNotFound
}

func (m *memDocuments) ObjectKeyExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byDigest {
		if rec.ObjectKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *memDocuments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byDigest)
}

func copyRecord(rec *entity.DocumentRecord) *entity.DocumentRecord {
	cp := *rec
	cp.References = append([]entity.SourceLink(nil), rec.References...)
	return &cp
}

type memFailures struct {
	mu    sync.Mutex
	byURL map[string]entity.TerminalFailure
}

func newMemFailures() *memFailures {
	return &memFailures{byURL: make(map[string]entity.TerminalFailure)}
}

func (m *memFailures) SaveOrUpdate(_ context.Context, f *entity.TerminalFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.byURL[f.ReferenceURL]; ok {
		f.FirstFailedAt = old.FirstFailedAt
	}
	m.byURL[f.ReferenceURL] = *f
	return nil
}

func (m *memFailures) List(_ context.Context, limit, offset int) ([]*entity.TerminalFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.TerminalFailure
	for _, f := range m.byURL {
		f := f
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceURL < out[j].ReferenceURL })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memFailures) FindByURL(_ context.Context, url string) (*entity.TerminalFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.byURL[url]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &f, nil
}

func (m *memFailures) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byURL, url)
	return nil
}

type memFrontier struct {
	mu      sync.Mutex
	tracked map[string]entity.DocumentReference
	spill   []entity.DocumentReference
}

func newMemFrontier() *memFrontier {
	return &memFrontier{tracked: make(map[string]entity.DocumentReference)}
}

func (m *memFrontier) Track(_ context.Context, refs ...entity.DocumentReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range refs {
		m.tracked[r.Key()] = r
	}
	return nil
}

func (m *memFrontier) Untrack(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, key)
	return nil
}

func (m *memFrontier) Pending(_ context.Context) ([]entity.DocumentReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.DocumentReference, 0, len(m.tracked))
	for _, r := range m.tracked {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *memFrontier) Spill(_ context.Context, ref entity.DocumentReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spill = append(m.spill, ref)
	return nil
}

func (m *memFrontier) Unspill(_ context.Context) (entity.DocumentReference, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.spill) == 0 {
		return entity.DocumentReference{}, false, nil
	}
	ref := m.spill[0]
	m.spill = m.spill[1:]
	return ref, true, nil
}

func (m *memFrontier) SpillSize(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.spill)), nil
}

func (m *memFrontier) DropSpill(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spill = nil
	return nil
}

func (m *memFrontier) isTracked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[key]
	return ok
}

type memRuns struct {
	mu     sync.Mutex
	runs   map[uuid.UUID]entity.IngestionRun
	events []entity.IngestionEvent
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]entity.IngestionRun)}
}

func (m *memRuns) Create(_ context.Context, run *entity.IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) Update(_ context.Context, run *entity.IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return entity.ErrNotFound
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) Get(_ context.Context, id uuid.UUID) (*entity.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return &r, nil
}

func (m *memRuns) List(_ context.Context, limit int) ([]*entity.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.IngestionRun
	for _, r := range m.runs {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRuns) AddEvent(_ context.Context, ev *entity.IngestionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *ev)
	return nil
}

func (m *memRuns) ListEvents(_ context.Context, runID uuid.UUID, limit, offset int) ([]*entity.IngestionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.IngestionEvent
	for _, ev := range m.events {
		if ev.RunID == runID {
			ev := ev
			out = append(out, &ev)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRuns) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}
