package usecase

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/internal/repository"
)

var (
	ErrAlreadyQueued  = errors.New("reference is already queued for ingestion")
	ErrInvalidURL     = errors.New("invalid reference URL")
	ErrHostNotAllowed = errors.New("reference host is not a configured source")
)

// Status values reported for references outside the pipeline states.
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusNotFound = "not_found"
)

// ManualSource names references submitted by an operator.
const ManualSource = "manual"

// ReferenceManager defines the operator surface: submitting references and
// inspecting their progress, failures and run history.
type ReferenceManager interface {
	Submit(ctx context.Context, rawURL string, force bool) (string, error)
	GetStatus(ctx context.Context, rawURL string) (*entity.ReferenceStatus, error)
	ListFailures(ctx context.Context, limit, offset int) ([]*entity.TerminalFailure, error)
	ListRuns(ctx context.Context, limit int) ([]*entity.IngestionRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*entity.IngestionRun, error)
	ListEvents(ctx context.Context, runID uuid.UUID, limit, offset int) ([]*entity.IngestionEvent, error)
}

// Submitter accepts references into the pipeline. *Coordinator implements it.
type Submitter interface {
	Submit(ctx context.Context, refs ...entity.DocumentReference) (int, error)
	Allows(host string) bool
}

type referenceManager struct {
	submitter Submitter
	attempts  repository.AttemptRepository
	documents repository.DocumentRepository
	failures  repository.FailureRepository
	runs      repository.RunRepository
}

// NewReferenceManager creates a new ReferenceManager use case.
func NewReferenceManager(
	submitter Submitter,
	attempts repository.AttemptRepository,
	documents repository.DocumentRepository,
	failures repository.FailureRepository,
	runs repository.RunRepository,
) ReferenceManager {
	return &referenceManager{
		submitter: submitter,
		attempts:  attempts,
		documents: documents,
		failures:  failures,
		runs:      runs,
	}
}

// Submit queues rawURL and returns its identity key. force re-ingests a
// reference that already reached a terminal state.
func (uc *referenceManager) Submit(ctx context.Context, rawURL string, force bool) (string, error) {
	ref, err := entity.NewReference(rawURL, ManualSource, "")
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "submit"), ErrInvalidURL)
	}
	ref.Force = force
	if !uc.submitter.Allows(ref.Host) {
		return "", errors.Wrapf(ErrHostNotAllowed, "submit %s", ref.Host)
	}

	n, err := uc.submitter.Submit(ctx, ref)
	if err != nil {
		return "", errors.Wrap(err, "submit reference")
	}
	if n == 0 {
		return ref.Key(), ErrAlreadyQueued
	}
	return ref.Key(), nil
}

func (uc *referenceManager) GetStatus(ctx context.Context, rawURL string) (*entity.ReferenceStatus, error) {
	ref, err := entity.NewReference(rawURL, "", "")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "status"), ErrInvalidURL)
	}

	// The checkpoint is the most current view while it lives.
	a, err := uc.attempts.Load(ctx, ref.Key())
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}
	if a != nil {
		return attemptStatus(ref.URL, a), nil
	}

	rec, err := uc.documents.FindByReference(ctx, ref.URL)
	if err == nil {
		verified := rec.LastVerifiedAt
		return &entity.ReferenceStatus{
			URL:           ref.URL,
			CurrentStatus: StatusDone,
			Digest:        rec.Digest.String(),
			ObjectKey:     rec.ObjectKey,
			LastAttemptAt: &verified,
		}, nil
	}
	if !errors.Is(err, entity.ErrNotFound) {
		return nil, errors.Wrap(err, "find document")
	}

	f, err := uc.failures.FindByURL(ctx, ref.URL)
	if err == nil {
		last := f.LastAttemptAt
		return &entity.ReferenceStatus{
			URL:           ref.URL,
			CurrentStatus: StatusFailed,
			Attempts:      f.AttemptCount,
			LastAttemptAt: &last,
			FailureReason: f.LastError,
		}, nil
	}
	if !errors.Is(err, entity.ErrNotFound) {
		return nil, errors.Wrap(err, "find failure")
	}

	return &entity.ReferenceStatus{URL: ref.URL, CurrentStatus: StatusNotFound}, nil
}

func (uc *referenceManager) ListFailures(ctx context.Context, limit, offset int) ([]*entity.TerminalFailure, error) {
	return uc.failures.List(ctx, limit, offset)
}

func (uc *referenceManager) ListRuns(ctx context.Context, limit int) ([]*entity.IngestionRun, error) {
	return uc.runs.List(ctx, limit)
}

func (uc *referenceManager) GetRun(ctx context.Context, id uuid.UUID) (*entity.IngestionRun, error) {
	return uc.runs.Get(ctx, id)
}

func (uc *referenceManager) ListEvents(ctx context.Context, runID uuid.UUID, limit, offset int) ([]*entity.IngestionEvent, error) {
	return uc.runs.ListEvents(ctx, runID, limit, offset)
}

func attemptStatus(url string, a *entity.IngestionAttempt) *entity.ReferenceStatus {
	s := &entity.ReferenceStatus{
		URL:           url,
		CurrentStatus: string(a.State),
		ObjectKey:     a.ObjectKey,
		Attempts:      a.Attempts,
		FailureReason: a.LastError,
	}
	switch a.State {
	case entity.StateDone:
		s.CurrentStatus = StatusDone
		s.FailureReason = ""
	case entity.StateFailedPermanent:
		s.CurrentStatus = StatusFailed
	}
	if !a.Digest.IsZero() {
		s.Digest = a.Digest.String()
	}
	if !a.UpdatedAt.IsZero() {
		updated := a.UpdatedAt
		s.LastAttemptAt = &updated
	}
	if !a.NextRetryAt.IsZero() && a.NextRetryAt.After(time.Now()) {
		next := a.NextRetryAt
		s.NextRetryAt = &next
	}
	return s
}
