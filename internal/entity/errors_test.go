package entity

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		transient bool
	}{
		{"transient fetch", TransientFetchError("https://src/a", 503, cause), KindTransientFetch, true},
		{"permanent fetch", PermanentFetchError("https://src/a", 404, nil), KindPermanentFetch, false},
		{"transient storage", TransientStorageError("put", cause), KindTransientStorage, true},
		{"permanent storage", PermanentStorageError("put", cause), KindPermanentStorage, false},
		{"transient commit", TransientCommitError(cause), KindTransientCommit, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := errors.Wrap(tt.err, "ingest")
			e, ok := AsError(wrapped)
			require.True(t, ok)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.transient, IsTransient(wrapped))
		})
	}

	t.Run("unwraps to cause", func(t *testing.T) {
		err := TransientStorageError("put", cause)
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("unclassified errors are not transient", func(t *testing.T) {
		assert.False(t, IsTransient(cause))
	})

	t.Run("message carries status and url", func(t *testing.T) {
		msg := PermanentFetchError("https://src/r3", 404, nil).Error()
		assert.Contains(t, msg, "HTTP 404")
		assert.Contains(t, msg, "https://src/r3")
	})
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailedPermanent.Terminal())
	assert.False(t, StateFailedTransient.Terminal())
	assert.False(t, StateCommitting.Terminal())
}

func TestNewReference(t *testing.T) {
	ref, err := NewReference("https://WWW.Justice.gov/a.pdf#x", "foia", "")
	require.NoError(t, err)
	assert.Equal(t, "https://www.justice.gov/a.pdf", ref.URL)
	assert.Equal(t, "www.justice.gov", ref.Host)
	assert.Equal(t, "foia", ref.Source)

	child, err := ref.Child("https://www.justice.gov/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, ref.URL, child.Parent)
	assert.Equal(t, "foia", child.Source)
}
