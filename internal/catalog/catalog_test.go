package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/document-ingestion/internal/entity"
)

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

func (m *memFrontier) Pending(context.Context) ([]entity.DocumentReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.DocumentReference, 0, len(m.tracked))
	for _, r := range m.tracked {
		out = append(out, r)
	}
	return out, nil
}

func (m *memFrontier) Spill(_ context.Context, ref entity.DocumentReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spill = append(m.spill, ref)
	return nil
}

func (m *memFrontier) Unspill(context.Context) (entity.DocumentReference, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.spill) == 0 {
		return entity.DocumentReference{}, false, nil
	}
	ref := m.spill[0]
	m.spill = m.spill[1:]
	return ref, true, nil
}

func (m *memFrontier) SpillSize(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.spill)), nil
}

func (m *memFrontier) DropSpill(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spill = nil
	return nil
}

func ref(t *testing.T, raw string) entity.DocumentReference {
	t.Helper()
	r, err := entity.NewReference(raw, "test", "")
	require.NoError(t, err)
	return r
}

func drain(t *testing.T, c *Catalog) []string {
	t.Helper()
	var urls []string
	for {
		r, ok, err := c.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return urls
		}
		urls = append(urls, r.URL)
	}
}

func TestCatalog_CollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	c := New(10, newMemFrontier(), zaptest.NewLogger(t))

	n, err := c.Push(ctx,
		ref(t, "https://src/a.pdf"),
		ref(t, "HTTPS://SRC/a.pdf#p2"),
		ref(t, "https://src/b.pdf"),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.Push(ctx, ref(t, "https://src/a.pdf"))
	require.NoError(t, err)
	assert.Zero(t, n, "still outstanding")

	assert.Equal(t, []string{"https://src/a.pdf", "https://src/b.pdf"}, drain(t, c))
}

func TestCatalog_QueryDistinguishesReferences(t *testing.T) {
	c := New(10, newMemFrontier(), zaptest.NewLogger(t))
	n, err := c.Push(context.Background(),
		ref(t, "https://src/list?page=0"),
		ref(t, "https://src/list?page=1"),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCatalog_SpillsWhenFullInsteadOfBlocking(t *testing.T) {
	ctx := context.Background()
	f := newMemFrontier()
	c := New(1, f, zaptest.NewLogger(t))

	n, err := c.Push(ctx, ref(t, "https://src/1"), ref(t, "https://src/2"), ref(t, "https://src/3"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	size, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	assert.Len(t, f.spill, 2)

	assert.ElementsMatch(t, []string{"https://src/1", "https://src/2", "https://src/3"}, drain(t, c))
}

func TestCatalog_CompleteAllowsRepush(t *testing.T) {
	ctx := context.Background()
	f := newMemFrontier()
	c := New(10, f, zaptest.NewLogger(t))
	r := ref(t, "https://src/a.pdf")

	_, err := c.Push(ctx, r)
	require.NoError(t, err)
	drain(t, c)
	assert.Contains(t, f.tracked, r.Key())

	require.NoError(t, c.Complete(ctx, r.Key()))
	assert.NotContains(t, f.tracked, r.Key())

	n, err := c.Push(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCatalog_RequeueBypassesDedup(t *testing.T) {
	ctx := context.Background()
	c := New(10, newMemFrontier(), zaptest.NewLogger(t))
	r := ref(t, "https://src/a.pdf")

	_, err := c.Push(ctx, r)
	require.NoError(t, err)
	drain(t, c)

	require.NoError(t, c.Requeue(ctx, r))
	assert.Equal(t, []string{r.URL}, drain(t, c))
}

func TestCatalog_RestoreReloadsJournal(t *testing.T) {
	ctx := context.Background()
	f := newMemFrontier()
	first := New(1, f, zaptest.NewLogger(t))
	_, err := first.Push(ctx, ref(t, "https://src/1"), ref(t, "https://src/2"), ref(t, "https://src/3"))
	require.NoError(t, err)
	done := ref(t, "https://src/1")
	require.NoError(t, first.Complete(ctx, done.Key()))

	// Simulated restart: a fresh catalog over the same frontier.
	second := New(10, f, zaptest.NewLogger(t))
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.spill)
	assert.ElementsMatch(t, []string{"https://src/2", "https://src/3"}, drain(t, second))
}

func TestCatalog_ReadySignal(t *testing.T) {
	c := New(10, newMemFrontier(), zaptest.NewLogger(t))
	_, err := c.Push(context.Background(), ref(t, "https://src/a"))
	require.NoError(t, err)

	select {
	case <-c.Ready():
	default:
		t.Fatal("expected ready signal after push")
	}
}
