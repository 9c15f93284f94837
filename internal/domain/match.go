package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchFormat enumerates the supported match-play formats.
type MatchFormat string

const (
	FormatSingles   MatchFormat = "singles"
	FormatFoursomes MatchFormat = "foursomes"
	FormatFourball  MatchFormat = "fourball"
)

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

const (
	MatchScheduled  MatchStatus = "scheduled"
	MatchInProgress MatchStatus = "in_progress"
	MatchFinal      MatchStatus = "final"
)

// HoleWinner is the outcome of a single hole.
type HoleWinner string

const (
	WinnerTeamA  HoleWinner = "teamA"
	WinnerTeamB  HoleWinner = "teamB"
	WinnerHalved HoleWinner = "halved"
	WinnerNone   HoleWinner = "none"
)

// ValidWinner reports whether w is one of the four hole outcomes.
func ValidWinner(w HoleWinner) bool {
	switch w {
	case WinnerTeamA, WinnerTeamB, WinnerHalved, WinnerNone:
		return true
	}
	return false
}

// Trip groups the matches one travelling party scores together. The share
// code is how a device requests a trip-scoped token.
type Trip struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	ShareCode string    `json:"share_code"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is one team-vs-team pairing. A match exclusively owns its hole
// results and is never deleted while any of them reference it.
type Match struct {
	ID           uuid.UUID   `json:"id"`
	TripID       uuid.UUID   `json:"trip_id"`
	Format       MatchFormat `json:"format"`
	Status       MatchStatus `json:"status"`
	TeamAPlayers []uuid.UUID `json:"team_a_players"`
	TeamBPlayers []uuid.UUID `json:"team_b_players"`
	CourseID     *uuid.UUID  `json:"course_id,omitempty"`
	TeeID        *uuid.UUID  `json:"tee_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// PlayerScore is one contributing player's gross strokes on a hole. Kept per
// player so foursomes/fourball retain the full audit trail, not just the
// best-ball number.
type PlayerScore struct {
	PlayerID uuid.UUID `json:"player_id"`
	Gross    int       `json:"gross"`
}

// HoleResult is the outcome of one hole of one match. (MatchID, Hole) is the
// composite key; at most one row exists per pair.
//
// Revision increments on every local edit. LastConfirmedRevision mirrors the
// revision the authoritative store last accepted; the gap between the two is
// what the reconciler arbitrates.
type HoleResult struct {
	MatchID               uuid.UUID     `json:"match_id"`
	Hole                  int           `json:"hole"`
	Winner                HoleWinner    `json:"winner"`
	Strokes               []PlayerScore `json:"strokes,omitempty"`
	Revision              int64         `json:"revision"`
	LastConfirmedRevision int64         `json:"last_confirmed_revision"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// ValidateHoleNumber rejects hole numbers outside 1-18.
func ValidateHoleNumber(hole int) error {
	if hole < 1 || hole > 18 {
		return ErrInvalidHoleNumber(hole)
	}
	return nil
}

// HoleResultEntityID builds the canonical entity id for a hole result, used
// as the per-entity ordering key in the mutation queue and on the wire.
func HoleResultEntityID(matchID uuid.UUID, hole int) string {
	return fmt.Sprintf("%s:%d", matchID, hole)
}

// ParseHoleResultEntityID is the inverse of HoleResultEntityID.
func ParseHoleResultEntityID(entityID string) (uuid.UUID, int, error) {
	i := strings.LastIndexByte(entityID, ':')
	if i < 0 {
		return uuid.Nil, 0, ErrValidation(fmt.Sprintf("malformed holeResult entity id %q", entityID))
	}
	matchID, err := uuid.Parse(entityID[:i])
	if err != nil {
		return uuid.Nil, 0, ErrValidation(fmt.Sprintf("malformed holeResult entity id %q", entityID))
	}
	hole, err := strconv.Atoi(entityID[i+1:])
	if err != nil {
		return uuid.Nil, 0, ErrValidation(fmt.Sprintf("malformed holeResult entity id %q", entityID))
	}
	if err := ValidateHoleNumber(hole); err != nil {
		return uuid.Nil, 0, err
	}
	return matchID, hole, nil
}
