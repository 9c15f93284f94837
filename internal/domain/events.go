package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChangeEvent is one confirmed change on the authoritative store's per-trip
// feed. Seq is assigned by the store per trip, strictly increasing, and is
// the subscription replay cursor.
type ChangeEvent struct {
	Seq            int64           `json:"seq"`
	TripID         uuid.UUID       `json:"trip_id"`
	Kind           EntityKind      `json:"kind"`
	EntityID       string          `json:"entity_id"`
	Operation      Operation       `json:"operation"`
	Revision       int64           `json:"revision"`
	Payload        json.RawMessage `json:"payload"`
	OriginDeviceID string          `json:"origin_device_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// NewHoleResultChange builds the feed event for a confirmed hole result.
func NewHoleResultChange(tripID uuid.UUID, hr *HoleResult, deviceID string) ChangeEvent {
	payload, _ := json.Marshal(hr)
	return ChangeEvent{
		TripID:         tripID,
		Kind:           KindHoleResult,
		EntityID:       HoleResultEntityID(hr.MatchID, hr.Hole),
		Operation:      OpUpdate,
		Revision:       hr.Revision,
		Payload:        payload,
		OriginDeviceID: deviceID,
		OccurredAt:     time.Now().UTC(),
	}
}

// NewMatchChange builds the feed event for a confirmed match update
// (finalize, reopen, roster edits).
func NewMatchChange(m *Match, op Operation, deviceID string) ChangeEvent {
	payload, _ := json.Marshal(m)
	return ChangeEvent{
		TripID:         m.TripID,
		Kind:           KindMatch,
		EntityID:       m.ID.String(),
		Operation:      op,
		Payload:        payload,
		OriginDeviceID: deviceID,
		OccurredAt:     time.Now().UTC(),
	}
}
