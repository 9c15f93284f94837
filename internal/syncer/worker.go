// Package syncer drains the mutation queue toward the authoritative store
// and folds remote-origin changes back into local state.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/queue"
)

// RemoteStore submits one queued mutation to the authoritative store. Submit
// must be idempotent on the item's idempotency key: resubmitting an already
// accepted item returns the originally recorded outcome.
type RemoteStore interface {
	Submit(ctx context.Context, tripID uuid.UUID, item domain.MutationQueueItem) (domain.SubmitResult, error)
}

// MetaStore persists sync bookkeeping that outlives the worker.
type MetaStore interface {
	SetLastSyncAt(ctx context.Context, tripID uuid.UUID, at time.Time) error
}

// Config tunes the worker loop.
type Config struct {
	PollInterval  time.Duration
	SubmitTimeout time.Duration
	MaxAttempts   int
	Backoff       Backoff
}

// DefaultConfig polls every 5s, times each submission out at 10s, and parks
// an item as failed after 8 transport-level attempts.
func DefaultConfig() Config {
	return Config{
		PollInterval:  5 * time.Second,
		SubmitTimeout: 10 * time.Second,
		MaxAttempts:   8,
		Backoff:       DefaultBackoff(),
	}
}

// Worker drains a trip's pending mutations whenever connectivity allows.
// Items for the same entity go out strictly in enqueue order; items for
// different entities drain concurrently.
type Worker struct {
	queue      *queue.Queue
	remote     RemoteStore
	reconciler *Reconciler
	meta       MetaStore
	online     func() bool
	cfg        Config
	logger     *slog.Logger
	tripID     uuid.UUID

	kick chan struct{}
}

// NewWorker assembles a sync worker for one trip. online gates drains; pass
// nil to treat the device as always connected.
func NewWorker(q *queue.Queue, remote RemoteStore, rec *Reconciler, meta MetaStore, tripID uuid.UUID, online func() bool, cfg Config, logger *slog.Logger) *Worker {
	if online == nil {
		online = func() bool { return true }
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Worker{
		queue:      q,
		remote:     remote,
		reconciler: rec,
		meta:       meta,
		online:     online,
		cfg:        cfg,
		logger:     logger,
		tripID:     tripID,
		kick:       make(chan struct{}, 1),
	}
}

// Kick requests an immediate drain, coalescing with one already requested.
// Called on enqueue and on connectivity regained.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Start runs the drain loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("sync worker started", "trip_id", w.tripID, "poll_interval", w.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopped", "trip_id", w.tripID)
			return
		case <-ticker.C:
		case <-w.kick:
		}
		if !w.online() {
			continue
		}
		if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("drain failed", "trip_id", w.tripID, "error", err)
		}
	}
}

// Drain pushes every currently due pending item, entity lanes in parallel.
func (w *Worker) Drain(ctx context.Context) error {
	// No submission is in flight between drains, so anything still marked
	// sending was stranded by a crash or a cancelled attempt. Re-arm it;
	// the idempotency key keeps a possible duplicate delivery safe.
	requeued, err := w.queue.RequeueStuck(ctx, w.tripID)
	if err != nil {
		return err
	}
	if requeued > 0 {
		w.logger.Info("requeued mutations stranded in sending", "trip_id", w.tripID, "count", requeued)
	}

	pending, err := w.queue.Pending(ctx, w.tripID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// Lane per entity keeps the per-entity FIFO guarantee while letting
	// unrelated entities drain concurrently.
	lanes := make(map[string][]domain.MutationQueueItem)
	var order []string
	for _, item := range pending {
		if _, ok := lanes[item.EntityID]; !ok {
			order = append(order, item.EntityID)
		}
		lanes[item.EntityID] = append(lanes[item.EntityID], item)
	}

	now := time.Now().UTC()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, entityID := range order {
		lane := lanes[entityID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := w.drainLane(ctx, lane, now)
			mu.Lock()
			delivered += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if delivered > 0 {
		if err := w.meta.SetLastSyncAt(ctx, w.tripID, time.Now().UTC()); err != nil {
			w.logger.Warn("record last sync time", "error", err)
		}
		if _, err := w.queue.PurgeDone(ctx); err != nil {
			w.logger.Warn("purge done items", "error", err)
		}
	}
	return nil
}

// drainLane submits one entity's items in order, stopping the lane on the
// first item that does not complete. A later item must never overtake an
// earlier one for the same entity.
func (w *Worker) drainLane(ctx context.Context, lane []domain.MutationQueueItem, now time.Time) int {
	delivered := 0
	for i := range lane {
		item := &lane[i]
		if item.NextAttemptAt.After(now) {
			return delivered
		}
		ok, err := w.submitOne(ctx, item)
		if err != nil {
			w.logger.Error("queue bookkeeping failed", "item_id", item.ID, "error", err)
			return delivered
		}
		if !ok {
			return delivered
		}
		delivered++
	}
	return delivered
}

// submitOne pushes a single item and settles its outcome. The bool reports
// whether the item reached a terminal state (done or failed) so the lane may
// advance.
func (w *Worker) submitOne(ctx context.Context, item *domain.MutationQueueItem) (bool, error) {
	if err := w.queue.MarkSending(ctx, item); err != nil {
		return false, err
	}

	subCtx, cancel := context.WithTimeout(ctx, w.cfg.SubmitTimeout)
	res, err := w.remote.Submit(subCtx, w.tripID, *item)
	cancel()

	if err != nil {
		// A definitive remote rejection cannot be healed by resubmitting the
		// same payload; park it for the user immediately.
		if terminalSubmitError(err) {
			w.logger.Warn("mutation rejected by remote", "item_id", item.ID, "entity_id", item.EntityID, "error", err)
			if mErr := w.queue.MarkFailed(ctx, item, err); mErr != nil {
				return false, mErr
			}
			w.releaseHeld(ctx, item.EntityID)
			return true, nil
		}

		// Transport failure: the remote may or may not have seen the item.
		// The idempotency key makes the retry safe either way.
		if item.RetryCount+1 >= w.cfg.MaxAttempts {
			w.logger.Warn("mutation exhausted retries", "item_id", item.ID, "entity_id", item.EntityID, "error", err)
			if mErr := w.queue.MarkFailed(ctx, item, domain.ErrSyncTransport(err)); mErr != nil {
				return false, mErr
			}
			w.releaseHeld(ctx, item.EntityID)
			return true, nil
		}
		next := time.Now().UTC().Add(w.cfg.Backoff.Delay(item.RetryCount))
		w.logger.Debug("mutation retry scheduled", "item_id", item.ID, "attempt", item.RetryCount+1, "next_attempt_at", next)
		if mErr := w.queue.MarkRetry(ctx, item, err, next); mErr != nil {
			return false, mErr
		}
		return false, nil
	}

	if res.RejectedStale {
		w.logger.Info("mutation rejected as stale",
			"item_id", item.ID, "entity_id", item.EntityID, "current_revision", res.CurrentRevision)
		if err := w.queue.MarkFailed(ctx, item, domain.ErrStaleRevision(item.EntityID, res.CurrentRevision)); err != nil {
			return false, err
		}
		if err := w.reconciler.ResolveRejected(ctx, item.Kind, item.EntityID, res.CurrentRevision, res.CurrentPayload); err != nil {
			w.logger.Error("apply authoritative value after rejection", "entity_id", item.EntityID, "error", err)
		}
		return true, nil
	}

	if err := w.queue.MarkDone(ctx, item); err != nil {
		return false, err
	}
	if err := w.reconciler.ConfirmLocal(ctx, item.Kind, item.EntityID, res.NewRevision); err != nil {
		w.logger.Error("record confirmed revision", "entity_id", item.EntityID, "error", err)
	}
	return true, nil
}

// releaseHeld lets a remote value parked behind the entity's local edit land
// now that the edit has failed. The local submission resolving, in either
// direction, is what the hold waits for.
func (w *Worker) releaseHeld(ctx context.Context, entityID string) {
	if err := w.reconciler.ResolveFailed(ctx, entityID); err != nil {
		w.logger.Error("release held remote change", "entity_id", entityID, "error", err)
	}
}

// terminalSubmitError reports whether the remote definitively rejected the
// item, as opposed to a transport fault a retry can heal. Stale rejections
// arrive as a SubmitResult, not an error, so they never pass through here.
func terminalSubmitError(err error) bool {
	var appErr *domain.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code != domain.CodeSyncTransport && appErr.Status >= 400 && appErr.Status < 500
}
