package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/catalog"
	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/internal/repository"
	"github.com/user/document-ingestion/pkg/digest"
	"github.com/user/document-ingestion/pkg/metrics"
)

const progressInterval = 10 * time.Second

// Dependencies are the collaborators a Coordinator drives.
// Runs is optional; without it no run history is recorded.
type Dependencies struct {
	Catalog   *catalog.Catalog
	Fetcher   repository.Fetcher
	Parser    repository.Parser
	Uploader  *Uploader
	Committer *Committer
	Attempts  repository.AttemptRepository
	Failures  repository.FailureRepository
	Documents repository.DocumentRepository
	Runs      repository.RunRepository
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Options tune a Coordinator.
type Options struct {
	Workers int
	Retry   RetryPolicy
	// KeepAlive keeps Run waiting for new submissions after the catalog drains.
	KeepAlive bool
	// Sources are the source names recorded on each run.
	Sources []string
	// Scope bounds the hosts references may point at.
	Scope HostScope
}

// heldUpload keeps fetched bytes between upload retries so a storage
// failure never forces a refetch.
type heldUpload struct {
	digest      digest.Digest
	body        []byte
	contentType string
	fields      entity.ExtractedFields
}

// Coordinator pulls references from the catalog and drives each one through
// fetch, parse, upload and commit on a bounded worker pool.
type Coordinator struct {
	Dependencies
	opts Options
	now  func() time.Time

	outstanding atomic.Int64
	wake        chan struct{}
	workers     sync.WaitGroup
	held        sync.Map
	restoreOnce sync.Once

	timerMu  sync.Mutex
	timers   map[string]*time.Timer
	stopping bool

	runMu sync.Mutex
	run   *entity.IngestionRun
}

func NewCoordinator(deps Dependencies, opts Options) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	deps.Logger = deps.Logger.Named("coordinator")
	return &Coordinator{
		Dependencies: deps,
		opts:         opts,
		now:          time.Now,
		wake:         make(chan struct{}, 1),
		timers:       make(map[string]*time.Timer),
	}
}

// Submit adds references to the catalog and returns how many were accepted.
// References already outstanding are collapsed and references outside the
// host scope are dropped.
func (c *Coordinator) Submit(ctx context.Context, refs ...entity.DocumentReference) (int, error) {
	inScope := make([]entity.DocumentReference, 0, len(refs))
	for _, ref := range refs {
		if !c.Allows(ref.Host) {
			c.Logger.Warn("dropping reference outside source hosts",
				zap.String("url", ref.URL),
				zap.String("parent", ref.Parent))
			continue
		}
		inScope = append(inScope, ref)
	}
	if len(inScope) == 0 {
		return 0, nil
	}
	n, err := c.Catalog.Push(ctx, inScope...)
	if n > 0 {
		c.track(func(r *entity.IngestionRun) { r.TotalDiscovered += n })
	}
	return n, err
}

// Allows reports whether host is inside the configured source scope.
func (c *Coordinator) Allows(host string) bool {
	return c.opts.Scope.Allows(host)
}

// Run restores the journaled frontier (first run only), submits seeds and
// processes until the catalog is exhausted with nothing in flight, or until
// ctx is cancelled.
// On cancellation no new references are admitted; in-flight workers finish
// their current transition and checkpoint before Run returns.
func (c *Coordinator) Run(ctx context.Context, seeds ...entity.DocumentReference) (*entity.IngestionRun, error) {
	io := context.WithoutCancel(ctx)

	pool, err := ants.NewPool(c.opts.Workers,
		ants.WithLogger(antsLogger{c.Logger}),
		ants.WithPanicHandler(func(p any) {
			c.Logger.Error("worker panicked", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	defer pool.Release()

	c.timerMu.Lock()
	c.stopping = false
	c.timerMu.Unlock()

	c.startRun(io)

	// The journal only holds a previous process's leftovers on the first run.
	restored := 0
	c.restoreOnce.Do(func() {
		restored, err = c.Catalog.Restore(ctx)
		if err != nil {
			c.Logger.Error("failed to restore frontier", zap.Error(err))
		}
	})
	accepted, err := c.Submit(ctx, seeds...)
	if err != nil {
		c.Logger.Error("failed to submit seeds", zap.Error(err))
	}
	c.Logger.Info("run started",
		zap.Int("restored", restored),
		zap.Int("seeds", accepted),
		zap.Int("workers", c.opts.Workers))

	status := c.dispatch(ctx, pool)
	c.drain()
	return c.finishRun(io, status), nil
}

func (c *Coordinator) dispatch(ctx context.Context, pool *ants.Pool) string {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return entity.RunStatusCancelled
		}
		select {
		case <-ticker.C:
			c.reportProgress(ctx)
		default:
		}

		ref, ok, err := c.Catalog.Next(ctx)
		if err != nil {
			c.Logger.Error("failed to read catalog", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return entity.RunStatusCancelled
			}
			continue
		}
		if !ok {
			if c.idle(ctx) {
				return entity.RunStatusCompleted
			}
			select {
			case <-ctx.Done():
				return entity.RunStatusCancelled
			case <-c.Catalog.Ready():
			case <-c.wake:
			case <-ticker.C:
				c.reportProgress(ctx)
			}
			continue
		}

		c.acquire()
		c.workers.Add(1)
		err = pool.Submit(func() {
			defer c.workers.Done()
			defer c.release()
			c.process(ctx, ref)
		})
		if err != nil {
			c.workers.Done()
			c.release()
			c.Logger.Error("failed to submit to worker pool", zap.String("url", ref.URL), zap.Error(err))
			if err := c.Catalog.Requeue(context.WithoutCancel(ctx), ref); err != nil {
				c.Logger.Error("failed to requeue reference", zap.String("url", ref.URL), zap.Error(err))
			}
		}
	}
}

// idle reports whether the run is finished: nothing queued and nothing held
// by a worker or a retry timer. Only the dispatcher and workers add work, so
// once outstanding reads zero the queue can no longer grow.
func (c *Coordinator) idle(ctx context.Context) bool {
	if c.opts.KeepAlive || c.outstanding.Load() > 0 {
		return false
	}
	n, err := c.Catalog.Len(ctx)
	if err != nil {
		c.Logger.Warn("failed to read queue depth", zap.Error(err))
		return false
	}
	return n == 0
}

// drain stops pending retry timers and waits for in-flight workers.
// References behind stopped timers stay journaled and are restored next run.
func (c *Coordinator) drain() {
	c.timerMu.Lock()
	c.stopping = true
	for key, t := range c.timers {
		if t.Stop() {
			c.release()
		}
		delete(c.timers, key)
	}
	c.timerMu.Unlock()

	c.workers.Wait()
}

func (c *Coordinator) acquire() {
	c.outstanding.Add(1)
	c.Metrics.InFlight.Inc()
}

func (c *Coordinator) release() {
	c.outstanding.Add(-1)
	c.Metrics.InFlight.Dec()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// schedule requeues ref after delay. The reference counts as outstanding
// while it waits.
func (c *Coordinator) schedule(ref entity.DocumentReference, delay time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.stopping {
		return
	}

	key := ref.Key()
	if old, ok := c.timers[key]; ok && old.Stop() {
		c.release()
	}
	c.acquire()
	c.timers[key] = time.AfterFunc(delay, func() {
		c.timerMu.Lock()
		delete(c.timers, key)
		c.timerMu.Unlock()

		if err := c.Catalog.Requeue(context.Background(), ref); err != nil {
			c.Logger.Error("failed to requeue reference", zap.String("url", ref.URL), zap.Error(err))
		}
		c.release()
	})
}

func (c *Coordinator) process(ctx context.Context, ref entity.DocumentReference) {
	io := context.WithoutCancel(ctx)
	log := c.Logger.With(zap.String("url", ref.URL))

	a, err := c.Attempts.Load(io, ref.Key())
	if err != nil {
		log.Warn("failed to load checkpoint, starting over", zap.Error(err))
	}
	fresh := a == nil
	if fresh {
		a = &entity.IngestionAttempt{State: entity.StatePending}
	}
	a.Reference = ref

	if !c.Allows(ref.Host) {
		// Journaled by an earlier process with a wider scope.
		log.Warn("dropping reference outside source hosts")
		c.complete(io, ref)
		c.Metrics.Outcome(metrics.OutcomeSkipped)
		return
	}

	switch {
	case a.State.Terminal() && !ref.Force:
		c.skip(io, a, "already "+string(a.State))
		return
	case a.State.Terminal():
		*a = entity.IngestionAttempt{Reference: ref, State: entity.StatePending}
	case fresh && !ref.Force:
		rec, err := c.Documents.FindByReference(io, ref.URL)
		if err == nil {
			a.State = entity.StateDone
			a.Digest = rec.Digest
			a.ObjectKey = rec.ObjectKey
			a.Fields = rec.Fields
			c.checkpoint(io, a)
			c.skip(io, a, "already recorded")
			return
		}
		if !errors.Is(err, entity.ErrNotFound) {
			log.Warn("failed to look up reference", zap.Error(err))
		}
	case a.State == entity.StateFailedTransient && a.NextRetryAt.After(c.now()):
		// Restored before its retry time came due.
		c.schedule(ref, a.NextRetryAt.Sub(c.now()))
		return
	}

	if ctx.Err() != nil {
		return
	}
	a.Attempts++

	if a.CanResumeCommit() {
		log.Debug("resuming at commit", zap.String("object_key", a.ObjectKey))
		c.commit(io, a)
		return
	}
	if v, ok := c.held.Load(ref.Key()); ok {
		c.upload(ctx, io, a, v.(*heldUpload))
		return
	}
	c.fetch(ctx, io, a)
}

func (c *Coordinator) fetch(ctx, io context.Context, a *entity.IngestionAttempt) {
	a.State = entity.StateFetching
	a.Digest = digest.Digest{}
	a.ObjectKey = ""
	c.checkpoint(io, a)

	res, err := c.Fetcher.Fetch(ctx, a.Reference)
	if err != nil {
		if ctx.Err() != nil {
			c.interrupt(io, a)
			return
		}
		c.fail(io, a, err, entity.KindTransientFetch)
		return
	}

	a.State = entity.StateParsing
	fields, children := c.Parser.Parse(res)
	if len(children) > 0 {
		n, err := c.Submit(io, children...)
		if err != nil {
			c.Logger.Error("failed to submit discovered references", zap.String("url", a.Reference.URL), zap.Error(err))
		}
		c.Logger.Debug("discovered references",
			zap.String("url", a.Reference.URL),
			zap.Int("found", len(children)),
			zap.Int("accepted", n))
	}

	held := &heldUpload{
		digest:      digest.Compute(res.Body),
		body:        res.Body,
		contentType: res.ContentType,
		fields:      fields,
	}
	if ctx.Err() != nil {
		c.interrupt(io, a)
		return
	}
	c.upload(ctx, io, a, held)
}

func (c *Coordinator) upload(ctx, io context.Context, a *entity.IngestionAttempt, h *heldUpload) {
	a.State = entity.StateUploading
	a.Digest = h.digest
	a.Fields = h.fields
	a.ObjectKey = ""
	c.checkpoint(io, a)

	key, _, err := c.Uploader.Upload(io, h.digest, h.body, h.contentType)
	if err != nil {
		c.held.Store(a.Reference.Key(), h)
		c.fail(io, a, err, entity.KindTransientStorage)
		return
	}
	c.held.Delete(a.Reference.Key())

	a.ObjectKey = key
	a.State = entity.StateCommitting
	c.checkpoint(io, a)
	if ctx.Err() != nil {
		// The checkpoint lets the next run resume at commit.
		return
	}
	c.commit(io, a)
}

func (c *Coordinator) commit(io context.Context, a *entity.IngestionAttempt) {
	a.State = entity.StateCommitting
	rec, created, err := c.Committer.Commit(io, entity.CommitRequest{
		Digest:    a.Digest,
		Reference: a.Reference,
		Fields:    a.Fields,
		ObjectKey: a.ObjectKey,
		At:        c.now(),
	})
	if err != nil {
		c.fail(io, a, err, entity.KindTransientCommit)
		return
	}

	a.State = entity.StateDone
	a.LastError = ""
	a.ErrorKind = ""
	a.NextRetryAt = time.Time{}
	c.checkpoint(io, a)
	c.complete(io, a.Reference)
	if err := c.Failures.Delete(io, a.Reference.URL); err != nil && !errors.Is(err, entity.ErrNotFound) {
		c.Logger.Warn("failed to clear failure record", zap.String("url", a.Reference.URL), zap.Error(err))
	}

	if created {
		c.Metrics.Outcome(metrics.OutcomeStored)
		c.track(func(r *entity.IngestionRun) { r.Downloaded++ })
		c.event(io, entity.EventDocumentStored, a.Reference.URL, rec.Digest.String(), rec.ObjectKey)
	} else {
		c.Metrics.Outcome(metrics.OutcomeDeduplicated)
		c.track(func(r *entity.IngestionRun) { r.SkippedDuplicate++ })
		c.event(io, entity.EventDocumentDeduplicated, a.Reference.URL, rec.Digest.String(), rec.ObjectKey)
	}
	c.Logger.Info("document committed",
		zap.String("url", a.Reference.URL),
		zap.String("digest", rec.Digest.String()),
		zap.Bool("created", created),
		zap.Int("attempts", a.Attempts))
}

// fail classifies err and either schedules a retry or records a terminal failure.
// Unclassified errors take the fallback kind.
func (c *Coordinator) fail(io context.Context, a *entity.IngestionAttempt, err error, fallback entity.ErrorKind) {
	if co, ok := entity.AsCircuitOpen(err); ok {
		c.awaitCircuit(io, a, co)
		return
	}

	kind, status := fallback, 0
	if e, ok := entity.AsError(err); ok {
		kind, status = e.Kind, e.StatusCode
	}
	a.ErrorKind = kind
	a.LastError = err.Error()
	c.Metrics.Error(string(kind))

	if !kind.Transient() || c.opts.Retry.Exhausted(a.Attempts) {
		c.failPermanent(io, a, status)
		return
	}

	delay := c.opts.Retry.Delay(a.Attempts)
	a.State = entity.StateFailedTransient
	a.NextRetryAt = c.now().Add(delay)
	c.checkpoint(io, a)
	c.Metrics.Retry(stageOf(kind))
	c.Logger.Warn("transient failure, retry scheduled",
		zap.String("url", a.Reference.URL),
		zap.String("kind", string(kind)),
		zap.Int("attempt", a.Attempts),
		zap.Duration("delay", delay),
		zap.Error(err))
	c.schedule(a.Reference, delay)
}

// awaitCircuit parks a reference whose host's breaker refused it. Nothing was
// sent, so the attempt is given back and the reference waits for the breaker
// to reopen instead of following the backoff schedule.
func (c *Coordinator) awaitCircuit(io context.Context, a *entity.IngestionAttempt, co *entity.CircuitOpenError) {
	a.Attempts--
	a.State = entity.StateFailedTransient
	a.ErrorKind = entity.KindTransientFetch
	a.LastError = co.Error()
	a.NextRetryAt = co.ReopenAt
	c.checkpoint(io, a)

	delay := co.ReopenAt.Sub(c.now())
	if delay < 0 {
		delay = 0
	}
	c.Logger.Debug("host circuit open, waiting",
		zap.String("url", a.Reference.URL),
		zap.String("host", co.Host),
		zap.Duration("delay", delay))
	c.schedule(a.Reference, delay)
}

func (c *Coordinator) failPermanent(io context.Context, a *entity.IngestionAttempt, status int) {
	a.State = entity.StateFailedPermanent
	a.NextRetryAt = time.Time{}
	c.checkpoint(io, a)
	c.held.Delete(a.Reference.Key())

	now := c.now()
	failure := &entity.TerminalFailure{
		ReferenceURL:  a.Reference.URL,
		Host:          a.Reference.Host,
		Source:        a.Reference.Source,
		ErrorKind:     a.ErrorKind,
		LastError:     a.LastError,
		StatusCode:    status,
		AttemptCount:  a.Attempts,
		FirstFailedAt: now,
		LastAttemptAt: now,
	}
	if err := c.Failures.SaveOrUpdate(io, failure); err != nil {
		c.Logger.Error("failed to record terminal failure", zap.String("url", a.Reference.URL), zap.Error(err))
	}
	c.complete(io, a.Reference)

	c.Metrics.Outcome(metrics.OutcomeFailed)
	c.track(func(r *entity.IngestionRun) { r.Failed++ })
	c.event(io, entity.EventDocumentFailed, a.Reference.URL, "", a.LastError)
	c.Logger.Error("reference failed permanently",
		zap.String("url", a.Reference.URL),
		zap.String("kind", string(a.ErrorKind)),
		zap.Int("attempts", a.Attempts),
		zap.String("error", a.LastError))
}

func (c *Coordinator) skip(io context.Context, a *entity.IngestionAttempt, reason string) {
	c.complete(io, a.Reference)
	c.Metrics.Outcome(metrics.OutcomeSkipped)
	c.track(func(r *entity.IngestionRun) { r.SkippedDuplicate++ })
	c.Logger.Debug("skipping reference", zap.String("url", a.Reference.URL), zap.String("reason", reason))
}

// interrupt parks a reference stopped by shutdown before its next transition.
// It stays journaled and starts over on the next run without spending an attempt.
func (c *Coordinator) interrupt(io context.Context, a *entity.IngestionAttempt) {
	a.Attempts--
	a.State = entity.StatePending
	a.LastError = "interrupted by shutdown"
	c.checkpoint(io, a)
}

func (c *Coordinator) checkpoint(io context.Context, a *entity.IngestionAttempt) {
	a.UpdatedAt = c.now()
	if err := c.Attempts.Save(io, a); err != nil {
		c.Logger.Error("failed to save checkpoint",
			zap.String("url", a.Reference.URL),
			zap.String("state", string(a.State)),
			zap.Error(err))
	}
}

func (c *Coordinator) complete(io context.Context, ref entity.DocumentReference) {
	if err := c.Catalog.Complete(io, ref.Key()); err != nil {
		c.Logger.Error("failed to complete reference", zap.String("url", ref.URL), zap.Error(err))
	}
}

func (c *Coordinator) startRun(io context.Context) {
	run := &entity.IngestionRun{
		ID:        uuid.New(),
		Status:    entity.RunStatusRunning,
		Sources:   c.opts.Sources,
		StartedAt: c.now(),
	}
	c.runMu.Lock()
	c.run = run
	c.runMu.Unlock()

	if c.Runs == nil {
		return
	}
	if err := c.Runs.Create(io, run); err != nil {
		c.Logger.Error("failed to record run", zap.Error(err))
	}
	c.event(io, entity.EventRunStarted, "", "", "")
}

func (c *Coordinator) finishRun(io context.Context, status string) *entity.IngestionRun {
	now := c.now()
	c.runMu.Lock()
	c.run.Status = status
	c.run.CompletedAt = &now
	snap := *c.run
	c.runMu.Unlock()

	if c.Runs != nil {
		if err := c.Runs.Update(io, &snap); err != nil {
			c.Logger.Error("failed to update run", zap.Error(err))
		}
	}
	c.event(io, entity.EventRunCompleted, "", "", status)

	c.runMu.Lock()
	c.run = nil
	c.runMu.Unlock()

	c.Logger.Info("run finished",
		zap.String("run_id", snap.ID.String()),
		zap.String("status", status),
		zap.Int("discovered", snap.TotalDiscovered),
		zap.Int("downloaded", snap.Downloaded),
		zap.Int("deduplicated", snap.SkippedDuplicate),
		zap.Int("failed", snap.Failed),
		zap.Duration("elapsed", now.Sub(snap.StartedAt)))
	return &snap
}

func (c *Coordinator) reportProgress(ctx context.Context) {
	if n, err := c.Catalog.Len(ctx); err == nil {
		c.Metrics.QueueDepth.Set(float64(n))
	}
	snap, ok := c.snapshot()
	if !ok || c.Runs == nil {
		return
	}
	if err := c.Runs.Update(context.WithoutCancel(ctx), &snap); err != nil {
		c.Logger.Warn("failed to update run progress", zap.Error(err))
	}
}

// track applies fn to the active run's counters.
func (c *Coordinator) track(fn func(*entity.IngestionRun)) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.run != nil {
		fn(c.run)
	}
}

func (c *Coordinator) snapshot() (entity.IngestionRun, bool) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.run == nil {
		return entity.IngestionRun{}, false
	}
	return *c.run, true
}

func (c *Coordinator) event(io context.Context, typ, url, dig, msg string) {
	if c.Runs == nil {
		return
	}
	snap, ok := c.snapshot()
	if !ok {
		return
	}
	ev := &entity.IngestionEvent{
		RunID:     snap.ID,
		Type:      typ,
		SourceURL: url,
		Digest:    dig,
		Message:   msg,
		CreatedAt: c.now(),
	}
	if err := c.Runs.AddEvent(io, ev); err != nil {
		c.Logger.Warn("failed to record event", zap.String("type", typ), zap.Error(err))
	}
}

func stageOf(kind entity.ErrorKind) string {
	switch kind {
	case entity.KindTransientStorage, entity.KindPermanentStorage:
		return "upload"
	case entity.KindTransientCommit:
		return "commit"
	}
	return "fetch"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// antsLogger routes pool diagnostics into zap.
type antsLogger struct{ log *zap.Logger }

func (l antsLogger) Printf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
