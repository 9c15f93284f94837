// Package engine is the device-side facade a client app embeds: local-first
// scoring with durable offline queueing, bounded undo, and background sync
// against the authoritative scoreboard server.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/handicap"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/matchplay"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/queue"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/scorelog"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/store"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/syncer"
)

// Remote is the authoritative store as the engine sees it: submit one
// mutation, or follow the trip change feed.
type Remote interface {
	syncer.RemoteStore
	Subscribe(ctx context.Context, tripID uuid.UUID, after int64, handle func(domain.ChangeEvent) error) error
}

// Config identifies the device and trip this engine instance serves.
type Config struct {
	TripID    uuid.UUID
	DeviceID  string
	UndoDepth int
	// Online gates sync attempts; nil means always connected.
	Online func() bool
	Sync   syncer.Config
}

// Engine coordinates the local store, scoring log, mutation queue, and sync
// machinery behind one API. All local writes go through it.
type Engine struct {
	store      *store.Local
	queue      *queue.Queue
	log        *scorelog.Log
	allocs     *handicap.Cache
	reconciler *syncer.Reconciler
	worker     *syncer.Worker
	remote     Remote
	tripID     uuid.UUID
	logger     *slog.Logger

	mu      sync.Mutex
	matchMu map[uuid.UUID]*sync.Mutex
}

// New assembles an engine over an opened local store and a remote client.
func New(s *store.Local, remote Remote, cfg Config, logger *slog.Logger) *Engine {
	q := queue.New(s)
	log := scorelog.New(s, cfg.DeviceID)
	if cfg.UndoDepth > 0 {
		log.SetUndoDepth(cfg.UndoDepth)
	}
	rec := syncer.NewReconciler(s, q, cfg.TripID, logger)
	worker := syncer.NewWorker(q, remote, rec, s, cfg.TripID, cfg.Online, cfg.Sync, logger)
	return &Engine{
		store:      s,
		queue:      q,
		log:        log,
		allocs:     handicap.NewCache(),
		reconciler: rec,
		worker:     worker,
		remote:     remote,
		tripID:     cfg.TripID,
		logger:     logger,
		matchMu:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockMatch serializes local writers per match.
func (e *Engine) lockMatch(matchID uuid.UUID) func() {
	e.mu.Lock()
	m, ok := e.matchMu[matchID]
	if !ok {
		m = &sync.Mutex{}
		e.matchMu[matchID] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Hydrate warms the engine from the local store after a restart. Queued
// mutations and the feed cursor are already durable; this just verifies the
// store is readable and reports what survived.
func (e *Engine) Hydrate(ctx context.Context) error {
	matches, err := e.store.ListMatchesByTrip(ctx, e.tripID)
	if err != nil {
		return fmt.Errorf("hydrate matches: %w", err)
	}
	status, err := e.queue.Status(ctx, e.tripID)
	if err != nil {
		return fmt.Errorf("hydrate queue: %w", err)
	}
	e.logger.Info("engine hydrated",
		"trip_id", e.tripID, "matches", len(matches),
		"pending_mutations", status.PendingCount, "failed_mutations", status.FailedCount)
	return nil
}

// RunSync drains the mutation queue until ctx is cancelled.
func (e *Engine) RunSync(ctx context.Context) { e.worker.Start(ctx) }

// RunFeed follows the trip change feed until ctx is cancelled, reconnecting
// with backoff and resuming from the durable cursor so no event is missed
// across restarts.
func (e *Engine) RunFeed(ctx context.Context) {
	backoff := syncer.DefaultBackoff()
	attempt := 0
	for ctx.Err() == nil {
		cursor, err := e.store.FeedCursor(ctx, e.tripID)
		if err != nil {
			e.logger.Error("load feed cursor", "error", err)
			cursor = 0
		}
		err = e.remote.Subscribe(ctx, e.tripID, cursor, func(ev domain.ChangeEvent) error {
			attempt = 0
			if err := e.reconciler.ApplyRemote(ctx, ev); err != nil {
				return err
			}
			return e.store.SetFeedCursor(ctx, e.tripID, ev.Seq)
		})
		if ctx.Err() != nil {
			return
		}
		delay := backoff.Delay(attempt)
		attempt++
		e.logger.Warn("feed disconnected", "error", err, "reconnect_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// GetMatchState computes the current match-play state from local results.
func (e *Engine) GetMatchState(ctx context.Context, matchID uuid.UUID) (matchplay.State, error) {
	results, err := e.store.ListHoleResults(ctx, matchID)
	if err != nil {
		return matchplay.State{}, err
	}
	return matchplay.Compute(results), nil
}

// RecordHoleResult records the winner of one hole. The write commits locally
// and enters the mutation queue before it returns; sync happens behind it.
func (e *Engine) RecordHoleResult(ctx context.Context, matchID uuid.UUID, hole int, winner domain.HoleWinner) error {
	if winner != domain.WinnerTeamA && winner != domain.WinnerTeamB && winner != domain.WinnerHalved {
		return domain.ErrValidation(fmt.Sprintf("cannot record winner %q; undo or reopen to clear a hole", winner))
	}
	return e.recordHole(ctx, matchID, hole, winner, nil)
}

// StrokeEntry is one player's gross score plus the strokes the allocator
// granted them on this hole.
type StrokeEntry struct {
	PlayerID        uuid.UUID
	Gross           int
	StrokesReceived int
}

// RecordStrokes records per-player gross scores and derives the hole winner
// from net best ball.
func (e *Engine) RecordStrokes(ctx context.Context, matchID uuid.UUID, hole int, teamA, teamB []StrokeEntry) error {
	if len(teamA) == 0 && len(teamB) == 0 {
		return domain.ErrValidation("no scores entered")
	}
	nets := func(entries []StrokeEntry) []int {
		out := make([]int, len(entries))
		for i, s := range entries {
			out[i] = handicap.NetScore(s.Gross, s.StrokesReceived)
		}
		return out
	}
	winner := handicap.FourballWinner(nets(teamA), nets(teamB))

	strokes := make([]domain.PlayerScore, 0, len(teamA)+len(teamB))
	for _, s := range append(append([]StrokeEntry{}, teamA...), teamB...) {
		strokes = append(strokes, domain.PlayerScore{PlayerID: s.PlayerID, Gross: s.Gross})
	}
	return e.recordHole(ctx, matchID, hole, winner, strokes)
}

func (e *Engine) recordHole(ctx context.Context, matchID uuid.UUID, hole int, winner domain.HoleWinner, strokes []domain.PlayerScore) error {
	if err := domain.ValidateHoleNumber(hole); err != nil {
		return err
	}
	unlock := e.lockMatch(matchID)
	defer unlock()

	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match.Status == domain.MatchFinal {
		return domain.ErrMatchAlreadyDecided(matchID.String())
	}
	results, err := e.store.ListHoleResults(ctx, matchID)
	if err != nil {
		return err
	}
	if matchplay.Compute(results).Decided() {
		return domain.ErrMatchAlreadyDecided(matchID.String())
	}

	var previous *domain.HoleWinner
	var revision int64 = 1
	var confirmed int64
	for i := range results {
		if results[i].Hole == hole {
			if results[i].Winner != domain.WinnerNone {
				w := results[i].Winner
				previous = &w
			}
			revision = results[i].Revision + 1
			confirmed = results[i].LastConfirmedRevision
			break
		}
	}

	// The event log commits first; it is the source of truth the hole
	// result row is derived from.
	if _, err := e.log.Record(ctx, matchID, hole, previous, winner); err != nil {
		return err
	}
	hr := &domain.HoleResult{
		MatchID:               matchID,
		Hole:                  hole,
		Winner:                winner,
		Strokes:               strokes,
		Revision:              revision,
		LastConfirmedRevision: confirmed,
		UpdatedAt:             time.Now().UTC(),
	}
	if err := e.store.UpsertHoleResult(ctx, hr); err != nil {
		return domain.ErrQueuePersistence(err)
	}
	if err := e.enqueueHoleResult(ctx, hr); err != nil {
		return err
	}

	if match.Status == domain.MatchScheduled {
		match.Status = domain.MatchInProgress
		if err := e.saveMatch(ctx, match); err != nil {
			return err
		}
	}
	e.worker.Kick()
	return nil
}

// Undo reverts the most recent not-yet-undone scoring action on the match
// and propagates the reverted state as a mutation of its own.
func (e *Engine) Undo(ctx context.Context, matchID uuid.UUID) error {
	unlock := e.lockMatch(matchID)
	defer unlock()

	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match.Status == domain.MatchFinal {
		return domain.ErrMatchAlreadyDecided(matchID.String())
	}

	comp, err := e.log.Undo(ctx, matchID)
	if err != nil {
		return err
	}
	existing, err := e.store.GetHoleResult(ctx, matchID, comp.Hole)
	if err != nil {
		return err
	}
	existing.Winner = comp.NewWinner
	if comp.NewWinner == domain.WinnerNone {
		existing.Strokes = nil
	}
	existing.Revision++
	existing.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertHoleResult(ctx, existing); err != nil {
		return domain.ErrQueuePersistence(err)
	}
	if err := e.enqueueHoleResult(ctx, existing); err != nil {
		return err
	}
	e.worker.Kick()
	return nil
}

// CanUndo reports whether the match has an undoable action left in the
// bounded undo window.
func (e *Engine) CanUndo(ctx context.Context, matchID uuid.UUID) (bool, error) {
	return e.log.CanUndo(ctx, matchID)
}

// AllocateStrokes returns the per-hole stroke allocation for a player on a
// tee, cached until the pairing is invalidated.
func (e *Engine) AllocateStrokes(playerID, teeID string, courseHandicap int, ranking [handicap.Holes]int) (handicap.Allocation, error) {
	return e.allocs.Get(playerID, teeID, courseHandicap, ranking)
}

// QueueStatus summarizes pending and failed mutations for the sync UI.
func (e *Engine) QueueStatus(ctx context.Context) (domain.QueueStatus, error) {
	return e.queue.Status(ctx, e.tripID)
}

// RetryFailed re-arms failed mutations and triggers an immediate drain.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	n, err := e.queue.RetryFailed(ctx, e.tripID)
	if err == nil && n > 0 {
		e.worker.Kick()
	}
	return n, err
}

// ClearFailed discards failed mutations the user has given up on.
func (e *Engine) ClearFailed(ctx context.Context) (int, error) {
	return e.queue.ClearFailed(ctx, e.tripID)
}

// FailedMutations lists failed items with their recorded errors.
func (e *Engine) FailedMutations(ctx context.Context) ([]domain.MutationQueueItem, error) {
	return e.queue.Failed(ctx, e.tripID)
}

// ExportAuditLog returns the full append-only scoring history of a match.
func (e *Engine) ExportAuditLog(ctx context.Context, matchID uuid.UUID) ([]domain.ScoringEvent, error) {
	return e.log.History(ctx, matchID)
}

// Finalize marks a decided match final. Further writes are rejected until an
// explicit Reopen.
func (e *Engine) Finalize(ctx context.Context, matchID uuid.UUID) error {
	unlock := e.lockMatch(matchID)
	defer unlock()

	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if match.Status == domain.MatchFinal {
		return nil
	}
	state, err := e.GetMatchState(ctx, matchID)
	if err != nil {
		return err
	}
	if !state.Decided() {
		return domain.ErrConflict(fmt.Sprintf("match %s is not decided; %s", matchID, state.DisplayScore()))
	}
	match.Status = domain.MatchFinal
	if err := e.saveMatch(ctx, match); err != nil {
		return err
	}
	e.worker.Kick()
	return nil
}

// Reopen reverts a match to in-progress and clears results from fromHole
// onward, so play can resume after an accidental close-out.
func (e *Engine) Reopen(ctx context.Context, matchID uuid.UUID, fromHole int) error {
	if err := domain.ValidateHoleNumber(fromHole); err != nil {
		return err
	}
	unlock := e.lockMatch(matchID)
	defer unlock()

	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	results, err := e.store.ListHoleResults(ctx, matchID)
	if err != nil {
		return err
	}
	var cleared []int
	for _, r := range results {
		if r.Hole >= fromHole {
			cleared = append(cleared, r.Hole)
		}
	}
	if err := e.store.DeleteHoleResultsFrom(ctx, matchID, fromHole); err != nil {
		return domain.ErrQueuePersistence(err)
	}
	for _, hole := range cleared {
		_, err := e.queue.Enqueue(ctx, e.tripID, domain.KindHoleResult,
			domain.HoleResultEntityID(matchID, hole), domain.OpDelete, nil)
		if err != nil {
			return err
		}
	}
	match.Status = domain.MatchInProgress
	if err := e.saveMatch(ctx, match); err != nil {
		return err
	}
	e.logger.Info("match reopened", "match_id", matchID, "from_hole", fromHole, "cleared", len(cleared))
	e.worker.Kick()
	return nil
}

func (e *Engine) enqueueHoleResult(ctx context.Context, hr *domain.HoleResult) error {
	payload, err := json.Marshal(domain.HoleResultPayload{
		MatchID:  hr.MatchID,
		Hole:     hr.Hole,
		Winner:   hr.Winner,
		Strokes:  hr.Strokes,
		Revision: hr.Revision,
	})
	if err != nil {
		return domain.ErrInternal("encode hole result payload", err)
	}
	_, err = e.queue.Enqueue(ctx, e.tripID, domain.KindHoleResult,
		domain.HoleResultEntityID(hr.MatchID, hr.Hole), domain.OpUpdate, payload)
	return err
}

func (e *Engine) saveMatch(ctx context.Context, match *domain.Match) error {
	match.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertMatch(ctx, match); err != nil {
		return domain.ErrQueuePersistence(err)
	}
	payload, err := json.Marshal(domain.MatchPayload{Match: *match})
	if err != nil {
		return domain.ErrInternal("encode match payload", err)
	}
	_, err = e.queue.Enqueue(ctx, e.tripID, domain.KindMatch, match.ID.String(), domain.OpUpdate, payload)
	return err
}
