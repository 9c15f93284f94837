// Package queue is the durable local log of pending writes addressed to the
// authoritative store. An acknowledged enqueue survives a crash; that is the
// contract everything above it leans on.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// DoneRetention is how long done items stay visible before purging, for the
// UI's "last synced" display.
const DoneRetention = 15 * time.Minute

// Store is the durable storage the queue writes through.
type Store interface {
	InsertQueueItem(ctx context.Context, item *domain.MutationQueueItem) error
	UpdateQueueItem(ctx context.Context, item *domain.MutationQueueItem) error
	ListQueueItems(ctx context.Context, tripID uuid.UUID, statuses ...domain.QueueItemStatus) ([]domain.MutationQueueItem, error)
	RequeueSending(ctx context.Context, tripID uuid.UUID) (int64, error)
	PurgeDoneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountQueueByStatus(ctx context.Context, tripID uuid.UUID) (pending, failed int, err error)
	LastSyncAt(ctx context.Context, tripID uuid.UUID) (*time.Time, error)
}

// Queue wraps the durable store with validation and status transitions.
type Queue struct {
	store Store
}

// New creates a queue over the given store.
func New(store Store) *Queue {
	return &Queue{store: store}
}

// Enqueue validates the payload against its entity kind's schema and appends
// the item durably. It returns only after the synchronous write commits;
// a persistence failure surfaces as QUEUE_PERSISTENCE_FAILURE and the edit
// must not be reported as saved.
//
// Items are never coalesced: two edits to the same entity both enter the
// queue and reach the remote in enqueue order.
func (q *Queue) Enqueue(ctx context.Context, tripID uuid.UUID, kind domain.EntityKind, entityID string, op domain.Operation, payload json.RawMessage) (uuid.UUID, error) {
	if err := domain.ValidateMutationPayload(kind, op, payload); err != nil {
		// Validation errors are rejected synchronously, never queued.
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	item := &domain.MutationQueueItem{
		ID:            uuid.New(),
		TripID:        tripID,
		Kind:          kind,
		EntityID:      entityID,
		Operation:     op,
		Payload:       payload,
		Status:        domain.ItemPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
	if err := q.store.InsertQueueItem(ctx, item); err != nil {
		return uuid.Nil, domain.ErrQueuePersistence(err)
	}
	return item.ID, nil
}

// Pending returns a trip's pending items in enqueue order.
func (q *Queue) Pending(ctx context.Context, tripID uuid.UUID) ([]domain.MutationQueueItem, error) {
	return q.store.ListQueueItems(ctx, tripID, domain.ItemPending)
}

// Failed returns a trip's failed items in enqueue order.
func (q *Queue) Failed(ctx context.Context, tripID uuid.UUID) ([]domain.MutationQueueItem, error) {
	return q.store.ListQueueItems(ctx, tripID, domain.ItemFailed)
}

// HasUnresolved reports whether any pending or sending item targets the
// entity. The reconciler uses this to give local edits optimistic precedence.
func (q *Queue) HasUnresolved(ctx context.Context, tripID uuid.UUID, entityID string) (bool, error) {
	items, err := q.store.ListQueueItems(ctx, tripID, domain.ItemPending, domain.ItemSending)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

// RequeueStuck re-arms items stranded in sending by a crash or a cancelled
// drain, and returns how many it re-armed. Only call when no submission is in
// flight; the idempotency key makes a duplicate delivery harmless regardless.
func (q *Queue) RequeueStuck(ctx context.Context, tripID uuid.UUID) (int64, error) {
	return q.store.RequeueSending(ctx, tripID)
}

// MarkSending transitions an item to sending before a submission attempt.
func (q *Queue) MarkSending(ctx context.Context, item *domain.MutationQueueItem) error {
	now := time.Now().UTC()
	item.Status = domain.ItemSending
	item.LastAttemptAt = &now
	return q.store.UpdateQueueItem(ctx, item)
}

// MarkDone transitions an item to done after the remote accepted it. Done
// items linger for DoneRetention, then purge.
func (q *Queue) MarkDone(ctx context.Context, item *domain.MutationQueueItem) error {
	item.Status = domain.ItemDone
	item.LastError = ""
	return q.store.UpdateQueueItem(ctx, item)
}

// MarkRetry records a failed attempt and schedules the next one at nextAttempt.
func (q *Queue) MarkRetry(ctx context.Context, item *domain.MutationQueueItem, cause error, nextAttempt time.Time) error {
	item.Status = domain.ItemPending
	item.RetryCount++
	item.NextAttemptAt = nextAttempt
	item.LastError = cause.Error()
	return q.store.UpdateQueueItem(ctx, item)
}

// MarkFailed parks an item as failed. Failed items are surfaced, never
// deleted automatically.
func (q *Queue) MarkFailed(ctx context.Context, item *domain.MutationQueueItem, cause error) error {
	item.Status = domain.ItemFailed
	item.RetryCount++
	item.LastError = cause.Error()
	return q.store.UpdateQueueItem(ctx, item)
}

// RetryFailed re-arms a trip's failed items for immediate delivery and
// returns how many were re-armed.
func (q *Queue) RetryFailed(ctx context.Context, tripID uuid.UUID) (int, error) {
	failed, err := q.store.ListQueueItems(ctx, tripID, domain.ItemFailed)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for i := range failed {
		item := &failed[i]
		item.Status = domain.ItemPending
		item.RetryCount = 0
		item.NextAttemptAt = now
		item.LastError = ""
		if err := q.store.UpdateQueueItem(ctx, item); err != nil {
			return i, domain.ErrQueuePersistence(err)
		}
	}
	return len(failed), nil
}

// ClearFailed drops a trip's failed items after the user has explicitly
// discarded them, and returns how many were cleared.
func (q *Queue) ClearFailed(ctx context.Context, tripID uuid.UUID) (int, error) {
	failed, err := q.store.ListQueueItems(ctx, tripID, domain.ItemFailed)
	if err != nil {
		return 0, err
	}
	for i := range failed {
		item := &failed[i]
		item.Status = domain.ItemDone
		if err := q.store.UpdateQueueItem(ctx, item); err != nil {
			return i, domain.ErrQueuePersistence(err)
		}
	}
	return len(failed), nil
}

// Status summarizes the trip's queue for the UI.
func (q *Queue) Status(ctx context.Context, tripID uuid.UUID) (domain.QueueStatus, error) {
	pending, failed, err := q.store.CountQueueByStatus(ctx, tripID)
	if err != nil {
		return domain.QueueStatus{}, err
	}
	lastSync, err := q.store.LastSyncAt(ctx, tripID)
	if err != nil {
		return domain.QueueStatus{}, err
	}
	return domain.QueueStatus{
		PendingCount: pending,
		FailedCount:  failed,
		LastSyncAt:   lastSync,
	}, nil
}

// PurgeDone removes done items older than the retention window.
func (q *Queue) PurgeDone(ctx context.Context) (int64, error) {
	return q.store.PurgeDoneBefore(ctx, time.Now().Add(-DoneRetention))
}
