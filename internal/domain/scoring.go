package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScoringEvent is one committed scoring action in the append-only per-match
// log. Events are never mutated after append; undo flips Undone via a
// compensating event, the original row stays for audit.
//
// Seq is a per-match logical counter assigned under the match's write lock.
// It, not RecordedAt, is the ordering authority: two devices can produce
// identical wall-clock timestamps.
type ScoringEvent struct {
	ID             uuid.UUID   `json:"id"`
	MatchID        uuid.UUID   `json:"match_id"`
	Hole           int         `json:"hole"`
	Seq            int64       `json:"seq"`
	PreviousWinner *HoleWinner `json:"previous_winner,omitempty"`
	NewWinner      HoleWinner  `json:"new_winner"`
	OriginDeviceID string      `json:"origin_device_id"`
	Undone         bool        `json:"undone"`
	RecordedAt     time.Time   `json:"recorded_at"`
}
