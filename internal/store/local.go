// Package store is the device-local durable record store. Everything the
// engine must survive a process restart with (matches, hole results, the
// scoring event log, the mutation queue, sync cursors) lives here, in a
// single SQLite file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// Local wraps the device's SQLite database.
type Local struct {
	db *sql.DB
}

// Open opens (or creates) the store at path and applies the schema.
// Pass ":memory:" for an ephemeral store in tests.
func Open(path string) (*Local, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping local store: %w", err)
	}
	// The queue is serialized through the engine's per-match locks; a single
	// connection keeps SQLite's writer semantics simple.
	db.SetMaxOpenConns(1)

	s := &Local{db: db}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Local) Close() error { return s.db.Close() }

func (s *Local) applySchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			trip_id TEXT NOT NULL,
			body TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_trip ON matches(trip_id)`,
		`CREATE TABLE IF NOT EXISTS hole_results (
			match_id TEXT NOT NULL,
			hole INTEGER NOT NULL CHECK (hole BETWEEN 1 AND 18),
			winner TEXT NOT NULL,
			strokes TEXT,
			revision INTEGER NOT NULL,
			last_confirmed_revision INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (match_id, hole)
		)`,
		`CREATE TABLE IF NOT EXISTS scoring_events (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL,
			hole INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			previous_winner TEXT,
			new_winner TEXT NOT NULL,
			origin_device_id TEXT NOT NULL,
			undone INTEGER NOT NULL DEFAULT 0,
			recorded_at INTEGER NOT NULL,
			UNIQUE (match_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS mutation_queue (
			id TEXT PRIMARY KEY,
			trip_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			payload TEXT,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			next_attempt_at INTEGER NOT NULL,
			last_attempt_at INTEGER,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_trip_status ON mutation_queue(trip_id, status)`,
		`CREATE TABLE IF NOT EXISTS sync_meta (
			trip_id TEXT PRIMARY KEY,
			feed_cursor INTEGER NOT NULL DEFAULT 0,
			last_sync_at INTEGER
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// --- matches ---

// UpsertMatch stores a match, replacing any previous row.
func (s *Local) UpsertMatch(ctx context.Context, m *domain.Match) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matches (id, trip_id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET trip_id = excluded.trip_id, body = excluded.body, updated_at = excluded.updated_at`,
		m.ID.String(), m.TripID.String(), string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert match: %w", err)
	}
	return nil
}

// GetMatch returns a match by id, or NotFound.
func (s *Local) GetMatch(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM matches WHERE id = ?`, id.String()).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("match", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	var m domain.Match
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, fmt.Errorf("unmarshal match: %w", err)
	}
	return &m, nil
}

// ListMatchesByTrip returns all matches for a trip.
func (s *Local) ListMatchesByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM matches WHERE trip_id = ? ORDER BY updated_at`, tripID.String())
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		var m domain.Match
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("unmarshal match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// --- hole results ---

// UpsertHoleResult stores a hole result, replacing any previous row for the
// same (match, hole) pair.
func (s *Local) UpsertHoleResult(ctx context.Context, hr *domain.HoleResult) error {
	var strokes *string
	if len(hr.Strokes) > 0 {
		data, err := json.Marshal(hr.Strokes)
		if err != nil {
			return fmt.Errorf("marshal strokes: %w", err)
		}
		str := string(data)
		strokes = &str
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hole_results (match_id, hole, winner, strokes, revision, last_confirmed_revision, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(match_id, hole) DO UPDATE SET
			winner = excluded.winner,
			strokes = excluded.strokes,
			revision = excluded.revision,
			last_confirmed_revision = excluded.last_confirmed_revision,
			updated_at = excluded.updated_at`,
		hr.MatchID.String(), hr.Hole, string(hr.Winner), strokes,
		hr.Revision, hr.LastConfirmedRevision, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert hole result: %w", err)
	}
	return nil
}

// GetHoleResult returns one hole result, or NotFound.
func (s *Local) GetHoleResult(ctx context.Context, matchID uuid.UUID, hole int) (*domain.HoleResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT match_id, hole, winner, strokes, revision, last_confirmed_revision, updated_at
		FROM hole_results WHERE match_id = ? AND hole = ?`, matchID.String(), hole)
	hr, err := scanHoleResult(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("holeResult", domain.HoleResultEntityID(matchID, hole))
	}
	if err != nil {
		return nil, fmt.Errorf("get hole result: %w", err)
	}
	return hr, nil
}

// ListHoleResults returns a match's hole results ordered by hole number.
func (s *Local) ListHoleResults(ctx context.Context, matchID uuid.UUID) ([]domain.HoleResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_id, hole, winner, strokes, revision, last_confirmed_revision, updated_at
		FROM hole_results WHERE match_id = ? ORDER BY hole`, matchID.String())
	if err != nil {
		return nil, fmt.Errorf("list hole results: %w", err)
	}
	defer rows.Close()

	var results []domain.HoleResult
	for rows.Next() {
		hr, err := scanHoleResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hole result: %w", err)
		}
		results = append(results, *hr)
	}
	return results, rows.Err()
}

// DeleteHoleResultsFrom removes a match's results for holes >= fromHole.
// Used by reopen to clear trailing results.
func (s *Local) DeleteHoleResultsFrom(ctx context.Context, matchID uuid.UUID, fromHole int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM hole_results WHERE match_id = ? AND hole >= ?`, matchID.String(), fromHole)
	if err != nil {
		return fmt.Errorf("delete hole results: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHoleResult(row rowScanner) (*domain.HoleResult, error) {
	var (
		matchID, winner string
		strokes         sql.NullString
		updatedAt       int64
		hr              domain.HoleResult
	)
	if err := row.Scan(&matchID, &hr.Hole, &winner, &strokes, &hr.Revision, &hr.LastConfirmedRevision, &updatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(matchID)
	if err != nil {
		return nil, fmt.Errorf("parse match id: %w", err)
	}
	hr.MatchID = id
	hr.Winner = domain.HoleWinner(winner)
	hr.UpdatedAt = time.UnixMilli(updatedAt)
	if strokes.Valid && strokes.String != "" {
		if err := json.Unmarshal([]byte(strokes.String), &hr.Strokes); err != nil {
			return nil, fmt.Errorf("unmarshal strokes: %w", err)
		}
	}
	return &hr, nil
}

// --- scoring events ---

// AppendScoringEvent inserts one event. The (match, seq) unique index rejects
// interleaved sequence assignment.
func (s *Local) AppendScoringEvent(ctx context.Context, ev *domain.ScoringEvent) error {
	var prev *string
	if ev.PreviousWinner != nil {
		p := string(*ev.PreviousWinner)
		prev = &p
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scoring_events (id, match_id, hole, seq, previous_winner, new_winner, origin_device_id, undone, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.MatchID.String(), ev.Hole, ev.Seq, prev,
		string(ev.NewWinner), ev.OriginDeviceID, ev.Undone, ev.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append scoring event: %w", err)
	}
	return nil
}

// MarkEventUndone flips the undone flag on one event. The row itself stays;
// the append-only history is the audit trail.
func (s *Local) MarkEventUndone(ctx context.Context, eventID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scoring_events SET undone = 1 WHERE id = ?`, eventID.String())
	if err != nil {
		return fmt.Errorf("mark event undone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("scoringEvent", eventID.String())
	}
	return nil
}

// ListScoringEvents returns a match's full event history ordered by sequence
// number ascending.
func (s *Local) ListScoringEvents(ctx context.Context, matchID uuid.UUID) ([]domain.ScoringEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, match_id, hole, seq, previous_winner, new_winner, origin_device_id, undone, recorded_at
		FROM scoring_events WHERE match_id = ? ORDER BY seq`, matchID.String())
	if err != nil {
		return nil, fmt.Errorf("list scoring events: %w", err)
	}
	defer rows.Close()

	var events []domain.ScoringEvent
	for rows.Next() {
		var (
			idStr, matchStr, newWinner, origin string
			prev                               sql.NullString
			recordedAt                         int64
			ev                                 domain.ScoringEvent
		)
		if err := rows.Scan(&idStr, &matchStr, &ev.Hole, &ev.Seq, &prev, &newWinner, &origin, &ev.Undone, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan scoring event: %w", err)
		}
		if ev.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		if ev.MatchID, err = uuid.Parse(matchStr); err != nil {
			return nil, fmt.Errorf("parse event match id: %w", err)
		}
		if prev.Valid {
			w := domain.HoleWinner(prev.String)
			ev.PreviousWinner = &w
		}
		ev.NewWinner = domain.HoleWinner(newWinner)
		ev.OriginDeviceID = origin
		ev.RecordedAt = time.UnixMilli(recordedAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MaxEventSeq returns the highest sequence number recorded for a match, zero
// when the log is empty.
func (s *Local) MaxEventSeq(ctx context.Context, matchID uuid.UUID) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM scoring_events WHERE match_id = ?`, matchID.String()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max event seq: %w", err)
	}
	return seq.Int64, nil
}

// --- mutation queue ---

// InsertQueueItem durably appends a queue item. The write is synchronous: when
// this returns nil the item survives a crash.
func (s *Local) InsertQueueItem(ctx context.Context, item *domain.MutationQueueItem) error {
	var lastAttempt *int64
	if item.LastAttemptAt != nil {
		ms := item.LastAttemptAt.UnixMilli()
		lastAttempt = &ms
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mutation_queue
			(id, trip_id, kind, entity_id, operation, payload, status, retry_count, created_at, next_attempt_at, last_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID.String(), item.TripID.String(), string(item.Kind), item.EntityID,
		string(item.Operation), string(item.Payload), string(item.Status), item.RetryCount,
		item.CreatedAt.UnixMilli(), item.NextAttemptAt.UnixMilli(), lastAttempt, item.LastError)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// UpdateQueueItem persists a status transition.
func (s *Local) UpdateQueueItem(ctx context.Context, item *domain.MutationQueueItem) error {
	var lastAttempt *int64
	if item.LastAttemptAt != nil {
		ms := item.LastAttemptAt.UnixMilli()
		lastAttempt = &ms
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutation_queue
		SET status = ?, retry_count = ?, next_attempt_at = ?, last_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		string(item.Status), item.RetryCount, item.NextAttemptAt.UnixMilli(),
		lastAttempt, item.LastError, item.ID.String())
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("queueItem", item.ID.String())
	}
	return nil
}

// RequeueSending flips a trip's sending items back to pending. A sending row
// with no submission in flight is a crash or cancellation leftover; without
// this it would sit invisible to the drain loop forever.
func (s *Local) RequeueSending(ctx context.Context, tripID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mutation_queue SET status = ? WHERE trip_id = ? AND status = ?`,
		string(domain.ItemPending), tripID.String(), string(domain.ItemSending))
	if err != nil {
		return 0, fmt.Errorf("requeue sending items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListQueueItems returns a trip's queue items in enqueue order, optionally
// filtered by status.
func (s *Local) ListQueueItems(ctx context.Context, tripID uuid.UUID, statuses ...domain.QueueItemStatus) ([]domain.MutationQueueItem, error) {
	query := `
		SELECT id, trip_id, kind, entity_id, operation, payload, status, retry_count, created_at, next_attempt_at, last_attempt_at, last_error
		FROM mutation_queue WHERE trip_id = ?`
	args := []interface{}{tripID.String()}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []domain.MutationQueueItem
	for rows.Next() {
		var (
			idStr, tripStr, kind, op, status string
			payload                          sql.NullString
			createdAt, nextAttemptAt         int64
			lastAttemptAt                    sql.NullInt64
			item                             domain.MutationQueueItem
		)
		if err := rows.Scan(&idStr, &tripStr, &kind, &item.EntityID, &op, &payload,
			&status, &item.RetryCount, &createdAt, &nextAttemptAt, &lastAttemptAt, &item.LastError); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		if item.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse queue item id: %w", err)
		}
		if item.TripID, err = uuid.Parse(tripStr); err != nil {
			return nil, fmt.Errorf("parse queue item trip id: %w", err)
		}
		item.Kind = domain.EntityKind(kind)
		item.Operation = domain.Operation(op)
		item.Status = domain.QueueItemStatus(status)
		if payload.Valid {
			item.Payload = json.RawMessage(payload.String)
		}
		item.CreatedAt = time.UnixMilli(createdAt)
		item.NextAttemptAt = time.UnixMilli(nextAttemptAt)
		if lastAttemptAt.Valid {
			at := time.UnixMilli(lastAttemptAt.Int64)
			item.LastAttemptAt = &at
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PurgeDoneBefore removes done items whose completion is older than cutoff.
// The retention window measures from when the item finished syncing, not when
// it was enqueued: an edit that waited offline for hours still gets its full
// "last synced" visibility. last_attempt_at is stamped by the attempt that
// completed the item.
func (s *Local) PurgeDoneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mutation_queue WHERE status = ? AND COALESCE(last_attempt_at, created_at) < ?`,
		string(domain.ItemDone), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge done items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountQueueByStatus returns pending and failed counts for a trip. Sending
// items count as pending: from the UI's point of view they are not synced yet.
func (s *Local) CountQueueByStatus(ctx context.Context, tripID uuid.UUID) (pending, failed int, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM mutation_queue WHERE trip_id = ? GROUP BY status`, tripID.String())
	if err != nil {
		return 0, 0, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, fmt.Errorf("scan queue count: %w", err)
		}
		switch domain.QueueItemStatus(status) {
		case domain.ItemPending, domain.ItemSending:
			pending += n
		case domain.ItemFailed:
			failed += n
		}
	}
	return pending, failed, rows.Err()
}

// --- sync metadata ---

// FeedCursor returns the last change-feed sequence applied for a trip.
func (s *Local) FeedCursor(ctx context.Context, tripID uuid.UUID) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT feed_cursor FROM sync_meta WHERE trip_id = ?`, tripID.String()).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("feed cursor: %w", err)
	}
	return cursor, nil
}

// SetFeedCursor advances the trip's change-feed cursor.
func (s *Local) SetFeedCursor(ctx context.Context, tripID uuid.UUID, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (trip_id, feed_cursor) VALUES (?, ?)
		ON CONFLICT(trip_id) DO UPDATE SET feed_cursor = excluded.feed_cursor`,
		tripID.String(), cursor)
	if err != nil {
		return fmt.Errorf("set feed cursor: %w", err)
	}
	return nil
}

// LastSyncAt returns when a trip's queue last drained successfully, nil if
// never.
func (s *Local) LastSyncAt(ctx context.Context, tripID uuid.UUID) (*time.Time, error) {
	var at sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_at FROM sync_meta WHERE trip_id = ?`, tripID.String()).Scan(&at)
	if err == sql.ErrNoRows || (err == nil && !at.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last sync at: %w", err)
	}
	t := time.UnixMilli(at.Int64)
	return &t, nil
}

// SetLastSyncAt records a successful drain.
func (s *Local) SetLastSyncAt(ctx context.Context, tripID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (trip_id, last_sync_at) VALUES (?, ?)
		ON CONFLICT(trip_id) DO UPDATE SET last_sync_at = excluded.last_sync_at`,
		tripID.String(), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("set last sync at: %w", err)
	}
	return nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
