package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// HoleResultPayload is the wire/queue payload for a hole result mutation.
type HoleResultPayload struct {
	MatchID  uuid.UUID     `json:"match_id"`
	Hole     int           `json:"hole"`
	Winner   HoleWinner    `json:"winner"`
	Strokes  []PlayerScore `json:"strokes,omitempty"`
	Revision int64         `json:"revision"`
}

// MatchPayload is the wire/queue payload for a match mutation.
type MatchPayload struct {
	Match Match `json:"match"`
}

// PlayerPayload is the wire/queue payload for a player mutation.
type PlayerPayload struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ValidateMutationPayload checks a payload against its entity kind's schema.
// Runs at enqueue time so malformed payloads never enter the durable queue,
// not only when they reach the remote.
func ValidateMutationPayload(kind EntityKind, op Operation, payload json.RawMessage) error {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return ErrValidation(fmt.Sprintf("unknown operation %q", op))
	}

	if op == OpDelete {
		// Deletes address the entity by id only.
		return nil
	}
	if len(payload) == 0 {
		return ErrValidation(fmt.Sprintf("%s %s requires a payload", kind, op))
	}

	switch kind {
	case KindHoleResult:
		var p HoleResultPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return ErrValidation(fmt.Sprintf("malformed holeResult payload: %v", err))
		}
		if p.MatchID == uuid.Nil {
			return ErrValidation("holeResult payload missing match_id")
		}
		if err := ValidateHoleNumber(p.Hole); err != nil {
			return err
		}
		if !ValidWinner(p.Winner) {
			return ErrValidation(fmt.Sprintf("unknown hole winner %q", p.Winner))
		}
		for _, s := range p.Strokes {
			if s.PlayerID == uuid.Nil {
				return ErrValidation("stroke entry missing player_id")
			}
			if s.Gross < 1 {
				return ErrValidation(fmt.Sprintf("gross strokes must be positive, got %d", s.Gross))
			}
		}
		return nil
	case KindMatch:
		var p MatchPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return ErrValidation(fmt.Sprintf("malformed match payload: %v", err))
		}
		if p.Match.ID == uuid.Nil {
			return ErrValidation("match payload missing id")
		}
		switch p.Match.Format {
		case FormatSingles, FormatFoursomes, FormatFourball:
		default:
			return ErrValidation(fmt.Sprintf("unknown match format %q", p.Match.Format))
		}
		return nil
	case KindPlayer:
		var p PlayerPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return ErrValidation(fmt.Sprintf("malformed player payload: %v", err))
		}
		if p.ID == uuid.Nil {
			return ErrValidation("player payload missing id")
		}
		if p.Name == "" {
			return ErrValidation("player payload missing name")
		}
		return nil
	default:
		return ErrValidation(fmt.Sprintf("unknown entity kind %q", kind))
	}
}

// strictUnmarshal rejects fields the schema does not declare, so a payload
// written by a newer client fails loudly instead of losing data silently.
func strictUnmarshal(data json.RawMessage, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
