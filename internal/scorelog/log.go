// Package scorelog is the append-only per-match scoring event log and the
// only writer of winner transitions. UI-facing state is derived from it;
// direct field writes that bypass the log are not part of the API.
package scorelog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// DefaultUndoDepth bounds the live undo stack. History beyond the bound
// stays in the log for audit but is no longer directly undoable.
const DefaultUndoDepth = 5

// Store is the durable event storage the log writes through.
type Store interface {
	AppendScoringEvent(ctx context.Context, ev *domain.ScoringEvent) error
	MarkEventUndone(ctx context.Context, eventID uuid.UUID) error
	ListScoringEvents(ctx context.Context, matchID uuid.UUID) ([]domain.ScoringEvent, error)
	MaxEventSeq(ctx context.Context, matchID uuid.UUID) (int64, error)
}

// Log assigns per-match sequence numbers and mediates undo.
//
// Sequence numbers are logical, not wall-clock: they are handed out under
// the per-match lock by whichever node holds write authority, so two devices
// with identical timestamps cannot produce ambiguous ordering.
type Log struct {
	store     Store
	deviceID  string
	undoDepth int

	mu      sync.Mutex
	nextSeq map[uuid.UUID]int64
}

// New creates a log writing through store, stamping events with deviceID.
func New(store Store, deviceID string) *Log {
	return &Log{
		store:     store,
		deviceID:  deviceID,
		undoDepth: DefaultUndoDepth,
		nextSeq:   make(map[uuid.UUID]int64),
	}
}

// SetUndoDepth overrides the undo stack bound. Zero or negative disables undo.
func (l *Log) SetUndoDepth(depth int) { l.undoDepth = depth }

func (l *Log) reserveSeq(ctx context.Context, matchID uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq, ok := l.nextSeq[matchID]
	if !ok {
		max, err := l.store.MaxEventSeq(ctx, matchID)
		if err != nil {
			return 0, fmt.Errorf("hydrate seq counter: %w", err)
		}
		seq = max + 1
	}
	l.nextSeq[matchID] = seq + 1
	return seq, nil
}

// Record appends a committed scoring action and returns the event.
func (l *Log) Record(ctx context.Context, matchID uuid.UUID, hole int, previous *domain.HoleWinner, next domain.HoleWinner) (*domain.ScoringEvent, error) {
	seq, err := l.reserveSeq(ctx, matchID)
	if err != nil {
		return nil, err
	}
	ev := &domain.ScoringEvent{
		ID:             uuid.New(),
		MatchID:        matchID,
		Hole:           hole,
		Seq:            seq,
		PreviousWinner: previous,
		NewWinner:      next,
		OriginDeviceID: l.deviceID,
		RecordedAt:     time.Now().UTC(),
	}
	if err := l.store.AppendScoringEvent(ctx, ev); err != nil {
		return nil, domain.ErrQueuePersistence(err)
	}
	return ev, nil
}

// undoable returns the live undo stack, newest first: the most recent
// not-yet-undone events, at most undoDepth of them.
func (l *Log) undoable(ctx context.Context, matchID uuid.UUID) ([]domain.ScoringEvent, error) {
	events, err := l.store.ListScoringEvents(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var stack []domain.ScoringEvent
	for i := len(events) - 1; i >= 0 && len(stack) < l.undoDepth; i-- {
		if !events[i].Undone {
			stack = append(stack, events[i])
		}
	}
	return stack, nil
}

// CanUndo reports whether the match has an undoable action.
func (l *Log) CanUndo(ctx context.Context, matchID uuid.UUID) (bool, error) {
	if l.undoDepth <= 0 {
		return false, nil
	}
	stack, err := l.undoable(ctx, matchID)
	if err != nil {
		return false, err
	}
	return len(stack) > 0, nil
}

// Undo reverts the event with the highest sequence number that has not been
// undone (strictly LIFO) and appends a compensating event recording the
// reversal. The compensating event is born spent (Undone=true) so repeated
// undo walks backwards through history instead of ping-ponging on its own
// reversals.
//
// Returns the compensating event; its NewWinner is the value the caller must
// re-apply to the hole result and enqueue (undo is a mutation other devices
// observe, not a local-only rollback).
func (l *Log) Undo(ctx context.Context, matchID uuid.UUID) (*domain.ScoringEvent, error) {
	stack, err := l.undoable(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if len(stack) == 0 || l.undoDepth <= 0 {
		return nil, domain.ErrConflict("nothing to undo")
	}
	target := stack[0]

	reverted := domain.WinnerNone
	if target.PreviousWinner != nil {
		reverted = *target.PreviousWinner
	}

	seq, err := l.reserveSeq(ctx, matchID)
	if err != nil {
		return nil, err
	}
	prev := target.NewWinner
	comp := &domain.ScoringEvent{
		ID:             uuid.New(),
		MatchID:        matchID,
		Hole:           target.Hole,
		Seq:            seq,
		PreviousWinner: &prev,
		NewWinner:      reverted,
		OriginDeviceID: l.deviceID,
		Undone:         true,
		RecordedAt:     time.Now().UTC(),
	}
	if err := l.store.AppendScoringEvent(ctx, comp); err != nil {
		return nil, domain.ErrQueuePersistence(err)
	}
	if err := l.store.MarkEventUndone(ctx, target.ID); err != nil {
		return nil, fmt.Errorf("mark undone: %w", err)
	}
	return comp, nil
}

// History returns the full append-only event history for audit export,
// ordered by sequence number.
func (l *Log) History(ctx context.Context, matchID uuid.UUID) ([]domain.ScoringEvent, error) {
	return l.store.ListScoringEvents(ctx, matchID)
}
