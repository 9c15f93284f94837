package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityKind identifies what a queued mutation addresses.
type EntityKind string

const (
	KindHoleResult EntityKind = "holeResult"
	KindMatch      EntityKind = "match"
	KindPlayer     EntityKind = "player"
)

// Operation is the write verb carried by a mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// QueueItemStatus is the lifecycle state of a queued mutation.
type QueueItemStatus string

const (
	ItemPending QueueItemStatus = "pending"
	ItemSending QueueItemStatus = "sending"
	ItemFailed  QueueItemStatus = "failed"
	ItemDone    QueueItemStatus = "done"
)

// MutationQueueItem is one durable pending write addressed to the
// authoritative store. The client-generated ID doubles as the idempotency
// key, so a retried submission cannot double-apply.
//
// Items are never silently dropped: failed items stay visible until the user
// retries or clears them.
type MutationQueueItem struct {
	ID            uuid.UUID       `json:"id"`
	TripID        uuid.UUID       `json:"trip_id"`
	Kind          EntityKind      `json:"kind"`
	EntityID      string          `json:"entity_id"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	Status        QueueItemStatus `json:"status"`
	RetryCount    int             `json:"retry_count"`
	CreatedAt     time.Time       `json:"created_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// IdempotencyKey returns the key sent with every submission of this item.
func (i *MutationQueueItem) IdempotencyKey() string {
	return i.ID.String()
}

// QueueStatus is the per-trip summary surfaced to the UI.
type QueueStatus struct {
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}

// SubmitResult is the authoritative store's answer to one submission.
// Exactly one of Accepted or RejectedStale holds; transport failures are
// errors, not results.
type SubmitResult struct {
	Accepted        bool            `json:"accepted"`
	NewRevision     int64           `json:"new_revision,omitempty"`
	RejectedStale   bool            `json:"rejected_stale,omitempty"`
	CurrentRevision int64           `json:"current_revision,omitempty"`
	CurrentPayload  json.RawMessage `json:"current_payload,omitempty"`
}
