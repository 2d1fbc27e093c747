package entity

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindTransientFetch   ErrorKind = "transient_fetch"
	KindPermanentFetch   ErrorKind = "permanent_fetch"
	KindTransientStorage ErrorKind = "transient_storage"
	KindPermanentStorage ErrorKind = "permanent_storage"
	KindTransientCommit  ErrorKind = "transient_commit"
)

// Transient reports whether errors of this kind are retried.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTransientFetch, KindTransientStorage, KindTransientCommit:
		return true
	}
	return false
}

var (
	// ErrDigestExists is returned by a document insert that hit the digest uniqueness constraint.
	ErrDigestExists = errors.New("document with this digest already exists")
	// ErrNotFound is returned when a looked-up row or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCircuitOpen is returned while a host's circuit breaker rejects requests.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrObjectExists is returned by a conditional object write when the key is already taken.
	ErrObjectExists = errors.New("object already exists")
)

// Error is a classified failure from one pipeline stage.
type Error struct {
	Kind       ErrorKind
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Kind, e.Op)
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure may be retried.
func (e *Error) Transient() bool { return e.Kind.Transient() }

// TransientFetchError wraps a retryable fetch failure (network, timeout, 5xx, 429).
func TransientFetchError(url string, status int, err error) error {
	return &Error{Kind: KindTransientFetch, Op: "fetch", URL: url, StatusCode: status, Err: err}
}

// PermanentFetchError wraps a non-retryable fetch failure (4xx).
func PermanentFetchError(url string, status int, err error) error {
	return &Error{Kind: KindPermanentFetch, Op: "fetch", URL: url, StatusCode: status, Err: err}
}

// TransientStorageError wraps a retryable object-store failure.
func TransientStorageError(op string, err error) error {
	return &Error{Kind: KindTransientStorage, Op: op, Err: err}
}

// PermanentStorageError wraps a non-retryable object-store failure.
func PermanentStorageError(op string, err error) error {
	return &Error{Kind: KindPermanentStorage, Op: op, Err: err}
}

// TransientCommitError wraps a retryable database failure during commit.
func TransientCommitError(err error) error {
	return &Error{Kind: KindTransientCommit, Op: "commit", Err: err}
}

// CircuitOpenError reports a request that was refused locally because the
// host's circuit breaker is open. Nothing was sent, so the reference itself
// has not failed.
type CircuitOpenError struct {
	Host     string
	ReopenAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s until %s", e.Host, e.ReopenAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// AsCircuitOpen extracts a *CircuitOpenError from err.
func AsCircuitOpen(err error) (*CircuitOpenError, bool) {
	var e *CircuitOpenError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AsError extracts a classified *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTransient reports whether err is a classified transient error.
func IsTransient(err error) bool {
	e, ok := AsError(err)
	return ok && e.Transient()
}
