// Package catalog is the work queue of document references awaiting ingestion.
package catalog

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/internal/repository"
)

// Catalog is a bounded in-memory queue backed by a durable frontier.
//
// A reference is accepted once while outstanding: Push collapses duplicates
// by identity key until Complete is called for it. Every accepted reference is
// journaled in the frontier so Restore can rebuild the queue after a crash.
// When the channel is full, Push spills to the frontier's overflow queue
// instead of blocking, so workers emitting children never stall the dispatcher.
type Catalog struct {
	queue    chan entity.DocumentReference
	ready    chan struct{}
	frontier repository.FrontierRepository
	log      *zap.Logger

	mu          sync.Mutex
	outstanding map[string]struct{}
}

// New creates a catalog whose in-memory queue holds capacity references.
func New(capacity int, frontier repository.FrontierRepository, log *zap.Logger) *Catalog {
	return &Catalog{
		queue:       make(chan entity.DocumentReference, capacity),
		ready:       make(chan struct{}, 1),
		frontier:    frontier,
		log:         log.Named("catalog"),
		outstanding: make(map[string]struct{}),
	}
}

// Push enqueues refs, skipping any already outstanding. It returns how many were accepted.
func (c *Catalog) Push(ctx context.Context, refs ...entity.DocumentReference) (int, error) {
	fresh := make([]entity.DocumentReference, 0, len(refs))
	c.mu.Lock()
	for _, ref := range refs {
		if _, dup := c.outstanding[ref.Key()]; dup {
			continue
		}
		c.outstanding[ref.Key()] = struct{}{}
		fresh = append(fresh, ref)
	}
	c.mu.Unlock()

	if len(fresh) == 0 {
		return 0, nil
	}
	if err := c.frontier.Track(ctx, fresh...); err != nil {
		c.forget(fresh...)
		return 0, errors.Wrap(err, "journal references")
	}
	for i, ref := range fresh {
		if err := c.offer(ctx, ref); err != nil {
			return i, err
		}
	}
	c.signal()
	return len(fresh), nil
}

// Requeue re-adds an outstanding reference for another attempt, bypassing dedup.
func (c *Catalog) Requeue(ctx context.Context, ref entity.DocumentReference) error {
	if err := c.offer(ctx, ref); err != nil {
		return err
	}
	c.signal()
	return nil
}

// Next returns the next reference without blocking. ok is false when the
// catalog is currently exhausted; it may be replenished later.
func (c *Catalog) Next(ctx context.Context) (entity.DocumentReference, bool, error) {
	select {
	case ref := <-c.queue:
		return ref, true, nil
	default:
	}
	ref, ok, err := c.frontier.Unspill(ctx)
	if err != nil {
		return entity.DocumentReference{}, false, errors.Wrap(err, "read overflow queue")
	}
	return ref, ok, nil
}

// Complete marks a reference terminal: it leaves the journal and may be pushed again.
func (c *Catalog) Complete(ctx context.Context, key string) error {
	c.forgetKey(key)
	return errors.Wrap(c.frontier.Untrack(ctx, key), "untrack reference")
}

// Restore reloads journaled references left by a previous process.
func (c *Catalog) Restore(ctx context.Context) (int, error) {
	pending, err := c.frontier.Pending(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load frontier")
	}
	if err := c.frontier.DropSpill(ctx); err != nil {
		return 0, errors.Wrap(err, "reset overflow queue")
	}

	restored := 0
	for _, ref := range pending {
		c.mu.Lock()
		_, dup := c.outstanding[ref.Key()]
		c.outstanding[ref.Key()] = struct{}{}
		c.mu.Unlock()
		if dup {
			continue
		}
		if err := c.offer(ctx, ref); err != nil {
			return restored, err
		}
		restored++
	}
	if restored > 0 {
		c.log.Info("restored frontier", zap.Int("references", restored))
		c.signal()
	}
	return restored, nil
}

// Len returns the number of queued references, in memory and spilled.
func (c *Catalog) Len(ctx context.Context) (int, error) {
	spilled, err := c.frontier.SpillSize(ctx)
	if err != nil {
		return len(c.queue), errors.Wrap(err, "read overflow size")
	}
	return len(c.queue) + int(spilled), nil
}

// Ready is signalled whenever references are added.
func (c *Catalog) Ready() <-chan struct{} {
	return c.ready
}

func (c *Catalog) offer(ctx context.Context, ref entity.DocumentReference) error {
	select {
	case c.queue <- ref:
		return nil
	default:
	}
	c.log.Debug("queue full, spilling", zap.String("url", ref.URL))
	return errors.Wrap(c.frontier.Spill(ctx, ref), "spill reference")
}

func (c *Catalog) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Catalog) forget(refs ...entity.DocumentReference) {
	for _, ref := range refs {
		c.forgetKey(ref.Key())
	}
}

func (c *Catalog) forgetKey(key string) {
	c.mu.Lock()
	delete(c.outstanding, key)
	c.mu.Unlock()
}
