// Package server is the authoritative scoreboard: it arbitrates concurrent
// submissions by revision, records every accepted change in a durable
// per-trip feed, and answers idempotently when a device resubmits.
package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// Repo is the Postgres-backed authoritative store.
type Repo struct {
	pool *pgxpool.Pool
}

// NewRepo creates a repo over a connection pool.
func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// MutationRequest is one device mutation as received on the wire.
type MutationRequest struct {
	ID        uuid.UUID         `json:"id"`
	Kind      domain.EntityKind `json:"kind"`
	EntityID  string            `json:"entity_id"`
	Operation domain.Operation  `json:"operation"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

// Outcome is the recorded result of applying a mutation. It is stored
// verbatim against the idempotency key so a resubmission replays it exactly.
type Outcome struct {
	Accepted        bool            `json:"accepted"`
	NewRevision     int64           `json:"new_revision,omitempty"`
	Stale           bool            `json:"stale,omitempty"`
	CurrentRevision int64           `json:"current_revision,omitempty"`
	CurrentPayload  json.RawMessage `json:"current_payload,omitempty"`
}

const shareCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func newShareCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(shareCodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = shareCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// CreateTrip creates a trip with a fresh share code.
func (r *Repo) CreateTrip(ctx context.Context, name string) (*domain.Trip, error) {
	code, err := newShareCode()
	if err != nil {
		return nil, fmt.Errorf("generate share code: %w", err)
	}
	trip := &domain.Trip{
		ID:        uuid.New(),
		Name:      name,
		ShareCode: code,
		CreatedAt: time.Now().UTC(),
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO trips (id, name, share_code, created_at) VALUES ($1, $2, $3, $4)`,
		trip.ID, trip.Name, trip.ShareCode, trip.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert trip: %w", err)
	}
	return trip, nil
}

// GetTripByShareCode resolves a share code to its trip.
func (r *Repo) GetTripByShareCode(ctx context.Context, code string) (*domain.Trip, error) {
	trip := &domain.Trip{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, share_code, created_at FROM trips WHERE share_code = $1`, code).
		Scan(&trip.ID, &trip.Name, &trip.ShareCode, &trip.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound("trip", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip by share code: %w", err)
	}
	return trip, nil
}

// GetTrip loads a trip by id.
func (r *Repo) GetTrip(ctx context.Context, id uuid.UUID) (*domain.Trip, error) {
	trip := &domain.Trip{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, share_code, created_at FROM trips WHERE id = $1`, id).
		Scan(&trip.ID, &trip.Name, &trip.ShareCode, &trip.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound("trip", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return trip, nil
}

// ListMatches returns a trip's matches for snapshot hydration.
func (r *Repo) ListMatches(ctx context.Context, tripID uuid.UUID) ([]domain.Match, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT body FROM matches WHERE trip_id = $1 ORDER BY created_at`, tripID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		var m domain.Match
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode match body: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ListHoleResults returns all confirmed hole results of a trip.
func (r *Repo) ListHoleResults(ctx context.Context, tripID uuid.UUID) ([]domain.HoleResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT match_id, hole, winner, strokes, revision, updated_at
		FROM hole_results WHERE trip_id = $1 ORDER BY match_id, hole`, tripID)
	if err != nil {
		return nil, fmt.Errorf("list hole results: %w", err)
	}
	defer rows.Close()

	var results []domain.HoleResult
	for rows.Next() {
		var hr domain.HoleResult
		var strokes []byte
		if err := rows.Scan(&hr.MatchID, &hr.Hole, &hr.Winner, &strokes, &hr.Revision, &hr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan hole result: %w", err)
		}
		if len(strokes) > 0 {
			if err := json.Unmarshal(strokes, &hr.Strokes); err != nil {
				return nil, fmt.Errorf("decode strokes: %w", err)
			}
		}
		hr.LastConfirmedRevision = hr.Revision
		results = append(results, hr)
	}
	return results, rows.Err()
}

// SubmitMutation applies one mutation transactionally. Duplicate idempotency
// keys replay the recorded outcome without re-applying. The returned change
// event is non-nil when the mutation was accepted and appended to the feed;
// the caller broadcasts it to live subscribers after this returns.
func (r *Repo) SubmitMutation(ctx context.Context, tripID uuid.UUID, deviceID string, req MutationRequest) (Outcome, *domain.ChangeEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var recorded []byte
	err = tx.QueryRow(ctx,
		`SELECT outcome FROM processed_mutations WHERE idempotency_key = $1`, req.ID).Scan(&recorded)
	if err == nil {
		var out Outcome
		if err := json.Unmarshal(recorded, &out); err != nil {
			return Outcome{}, nil, fmt.Errorf("decode recorded outcome: %w", err)
		}
		return out, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Outcome{}, nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	if err := domain.ValidateMutationPayload(req.Kind, req.Operation, req.Payload); err != nil {
		return Outcome{}, nil, err
	}

	var (
		out Outcome
		ev  *domain.ChangeEvent
	)
	switch req.Kind {
	case domain.KindHoleResult:
		out, ev, err = r.applyHoleResult(ctx, tx, tripID, deviceID, req)
	case domain.KindMatch:
		out, ev, err = r.applyMatch(ctx, tx, tripID, deviceID, req)
	default:
		err = domain.ErrValidation(fmt.Sprintf("unsupported entity kind %q", req.Kind))
	}
	if err != nil {
		return Outcome{}, nil, err
	}

	outJSON, err := json.Marshal(out)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("encode outcome: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO processed_mutations (idempotency_key, trip_id, outcome) VALUES ($1, $2, $3)`,
		req.ID, tripID, outJSON)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("record outcome: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, nil, fmt.Errorf("commit: %w", err)
	}
	return out, ev, nil
}

func (r *Repo) applyHoleResult(ctx context.Context, tx pgx.Tx, tripID uuid.UUID, deviceID string, req MutationRequest) (Outcome, *domain.ChangeEvent, error) {
	if req.Operation == domain.OpDelete {
		matchID, hole, err := domain.ParseHoleResultEntityID(req.EntityID)
		if err != nil {
			return Outcome{}, nil, err
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM hole_results WHERE match_id = $1 AND hole = $2`, matchID, hole)
		if err != nil {
			return Outcome{}, nil, fmt.Errorf("delete hole result: %w", err)
		}
		ev, err := r.appendFeed(ctx, tx, domain.ChangeEvent{
			TripID:         tripID,
			Kind:           domain.KindHoleResult,
			EntityID:       req.EntityID,
			Operation:      domain.OpDelete,
			OriginDeviceID: deviceID,
		})
		if err != nil {
			return Outcome{}, nil, err
		}
		return Outcome{Accepted: true}, ev, nil
	}

	var p domain.HoleResultPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Outcome{}, nil, domain.ErrValidation(fmt.Sprintf("malformed holeResult payload: %v", err))
	}

	var current int64
	var currentWinner domain.HoleWinner
	var currentStrokes []byte
	err := tx.QueryRow(ctx, `
		SELECT revision, winner, strokes FROM hole_results
		WHERE match_id = $1 AND hole = $2 FOR UPDATE`, p.MatchID, p.Hole).
		Scan(&current, &currentWinner, &currentStrokes)
	exists := true
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
		err = nil
	}
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("lock hole result: %w", err)
	}

	// Revision arbitration: the submission must be based on the current
	// confirmed value. Anything at or below the confirmed revision lost a
	// race with another device and comes back stale, never merged.
	if exists && p.Revision <= current {
		cur := domain.HoleResult{MatchID: p.MatchID, Hole: p.Hole, Winner: currentWinner, Revision: current, LastConfirmedRevision: current}
		if len(currentStrokes) > 0 {
			_ = json.Unmarshal(currentStrokes, &cur.Strokes)
		}
		payload, err := json.Marshal(cur)
		if err != nil {
			return Outcome{}, nil, fmt.Errorf("encode current value: %w", err)
		}
		return Outcome{Stale: true, CurrentRevision: current, CurrentPayload: payload}, nil, nil
	}

	newRev := current + 1
	var strokesJSON []byte
	if len(p.Strokes) > 0 {
		strokesJSON, err = json.Marshal(p.Strokes)
		if err != nil {
			return Outcome{}, nil, fmt.Errorf("encode strokes: %w", err)
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO hole_results (match_id, hole, trip_id, winner, strokes, revision, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (match_id, hole) DO UPDATE
		SET winner = EXCLUDED.winner, strokes = EXCLUDED.strokes,
		    revision = EXCLUDED.revision, updated_by = EXCLUDED.updated_by, updated_at = now()`,
		p.MatchID, p.Hole, tripID, p.Winner, strokesJSON, newRev, deviceID)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("upsert hole result: %w", err)
	}

	confirmed := domain.HoleResult{
		MatchID: p.MatchID, Hole: p.Hole, Winner: p.Winner, Strokes: p.Strokes,
		Revision: newRev, LastConfirmedRevision: newRev, UpdatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(confirmed)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("encode confirmed value: %w", err)
	}
	ev, err := r.appendFeed(ctx, tx, domain.ChangeEvent{
		TripID:         tripID,
		Kind:           domain.KindHoleResult,
		EntityID:       req.EntityID,
		Operation:      req.Operation,
		Revision:       newRev,
		Payload:        payload,
		OriginDeviceID: deviceID,
	})
	if err != nil {
		return Outcome{}, nil, err
	}
	return Outcome{Accepted: true, NewRevision: newRev}, ev, nil
}

func (r *Repo) applyMatch(ctx context.Context, tx pgx.Tx, tripID uuid.UUID, deviceID string, req MutationRequest) (Outcome, *domain.ChangeEvent, error) {
	var p domain.MatchPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return Outcome{}, nil, domain.ErrValidation(fmt.Sprintf("malformed match payload: %v", err))
	}
	if p.Match.TripID != tripID {
		return Outcome{}, nil, domain.ErrForbidden("match belongs to a different trip")
	}
	body, err := json.Marshal(p.Match)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("encode match body: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO matches (id, trip_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
		p.Match.ID, tripID, body)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("upsert match: %w", err)
	}
	ev, err := r.appendFeed(ctx, tx, domain.ChangeEvent{
		TripID:         tripID,
		Kind:           domain.KindMatch,
		EntityID:       p.Match.ID.String(),
		Operation:      req.Operation,
		Payload:        body,
		OriginDeviceID: deviceID,
	})
	if err != nil {
		return Outcome{}, nil, err
	}
	return Outcome{Accepted: true}, ev, nil
}

func (r *Repo) appendFeed(ctx context.Context, tx pgx.Tx, ev domain.ChangeEvent) (*domain.ChangeEvent, error) {
	ev.OccurredAt = time.Now().UTC()
	err := tx.QueryRow(ctx, `
		INSERT INTO change_feed (trip_id, kind, entity_id, operation, revision, payload, origin_device_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		ev.TripID, ev.Kind, ev.EntityID, ev.Operation, ev.Revision, []byte(ev.Payload), ev.OriginDeviceID, ev.OccurredAt).
		Scan(&ev.Seq)
	if err != nil {
		return nil, fmt.Errorf("append change feed: %w", err)
	}
	return &ev, nil
}

// FeedSince returns a trip's change events with seq greater than after, in
// feed order, up to limit rows. Reconnecting subscribers replay from here.
func (r *Repo) FeedSince(ctx context.Context, tripID uuid.UUID, after int64, limit int) ([]domain.ChangeEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seq, trip_id, kind, entity_id, operation, revision, payload, origin_device_id, occurred_at
		FROM change_feed WHERE trip_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`,
		tripID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read change feed: %w", err)
	}
	defer rows.Close()
	return scanFeed(rows)
}

// FeedTail returns the newest feed sequence for a trip, zero when empty.
// A snapshot paired with this cursor reflects every event at or below it.
func (r *Repo) FeedTail(ctx context.Context, tripID uuid.UUID) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM change_feed WHERE trip_id = $1`, tripID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("feed tail: %w", err)
	}
	return seq, nil
}

// UnpublishedFeed returns feed rows not yet fanned out to Kafka, oldest first.
func (r *Repo) UnpublishedFeed(ctx context.Context, limit int) ([]domain.ChangeEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seq, trip_id, kind, entity_id, operation, revision, payload, origin_device_id, occurred_at
		FROM change_feed WHERE published_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("read unpublished feed: %w", err)
	}
	defer rows.Close()
	return scanFeed(rows)
}

// MarkFeedPublished stamps the given feed rows as fanned out.
func (r *Repo) MarkFeedPublished(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE change_feed SET published_at = now() WHERE seq = ANY($1)`, seqs)
	if err != nil {
		return fmt.Errorf("mark feed published: %w", err)
	}
	return nil
}

func scanFeed(rows pgx.Rows) ([]domain.ChangeEvent, error) {
	var events []domain.ChangeEvent
	for rows.Next() {
		var ev domain.ChangeEvent
		var payload []byte
		if err := rows.Scan(&ev.Seq, &ev.TripID, &ev.Kind, &ev.EntityID, &ev.Operation,
			&ev.Revision, &payload, &ev.OriginDeviceID, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}
