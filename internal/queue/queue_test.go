package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, uuid.UUID) {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/queue.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), uuid.New()
}

func holeResultPayload(t *testing.T, matchID uuid.UUID, hole int, w domain.HoleWinner, rev int64) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(domain.HoleResultPayload{MatchID: matchID, Hole: hole, Winner: w, Revision: rev})
	require.NoError(t, err)
	return data
}

func TestEnqueue_ReturnsDurablePendingItem(t *testing.T) {
	q, tripID := newTestQueue(t)
	ctx := context.Background()
	matchID := uuid.New()

	id, err := q.Enqueue(ctx, tripID, domain.KindHoleResult,
		domain.HoleResultEntityID(matchID, 7), domain.OpUpdate,
		holeResultPayload(t, matchID, 7, domain.WinnerTeamA, 1))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, id.String(), pending[0].IdempotencyKey())
}

func TestEnqueue_RejectsInvalidPayloadSynchronously(t *testing.T) {
	q, tripID := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, tripID, domain.KindHoleResult, "m:19", domain.OpUpdate,
		holeResultPayload(t, uuid.New(), 19, domain.WinnerTeamA, 1))
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidHoleNumber))

	// The malformed edit never entered the queue.
	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEnqueue_DoesNotCoalesceSameEntity(t *testing.T) {
	q, tripID := newTestQueue(t)
	ctx := context.Background()
	matchID := uuid.New()
	entityID := domain.HoleResultEntityID(matchID, 7)

	first, err := q.Enqueue(ctx, tripID, domain.KindHoleResult, entityID, domain.OpUpdate,
		holeResultPayload(t, matchID, 7, domain.WinnerTeamA, 1))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, tripID, domain.KindHoleResult, entityID, domain.OpUpdate,
		holeResultPayload(t, matchID, 7, domain.WinnerTeamB, 2))
	require.NoError(t, err)

	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	require.Len(t, pending, 2, "both edits retained, in order")
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, second, pending[1].ID)
}

func TestStatusTransitions(t *testing.T) {
	q, tripID := newTestQueue(t)
	ctx := context.Background()
	matchID := uuid.New()

	_, err := q.Enqueue(ctx, tripID, domain.KindHoleResult,
		domain.HoleResultEntityID(matchID, 3), domain.OpUpdate,
		holeResultPayload(t, matchID, 3, domain.WinnerHalved, 1))
	require.NoError(t, err)

	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	item := &pending[0]

	require.NoError(t, q.MarkSending(ctx, item))
	assert.Equal(t, domain.ItemSending, item.Status)
	require.NotNil(t, item.LastAttemptAt)

	require.NoError(t, q.MarkRetry(ctx, item, errors.New("connection refused"), time.Now().Add(2*time.Second)))
	assert.Equal(t, domain.ItemPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Equal(t, "connection refused", item.LastError)

	require.NoError(t, q.MarkDone(ctx, item))
	status, err := q.Status(ctx, tripID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingCount)
	assert.Equal(t, 0, status.FailedCount)
}

func TestMarkFailed_SurfacedInStatus(t *testing.T) {
	q, tripID := newTestQueue(t)
	ctx := context.Background()
	matchID := uuid.New()

	_, err := q.Enqueue(ctx, tripID, domain.KindHoleResult,
		domain.HoleResultEntityID(matchID, 5), domain.OpUpdate,
		holeResultPayload(t, matchID, 5, domain.WinnerTeamB, 1))
	require.NoError(t, err)

	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, &pending[0], domain.ErrStaleRevision("m:5", 4)))

	status, err := q.Status(ctx, tripID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingCount)
	assert.Equal(t, 1, status.FailedCount)

	failed, err := q.Failed(ctx, tripID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, domain.CodeStaleRevision)
}

func TestRetryFailed(t *testing.T) {
	q, tripID := newTestQueue(t)
	ctx := context.Background()
	matchID := uuid.New()

	for hole := 1; hole <= 2; hole++ {
		_, err := q.Enqueue(ctx, tripID, domain.KindHoleResult,
			domain.HoleResultEntityID(matchID, hole), domain.OpUpdate,
			holeResultPayload(t, matchID, hole, domain.WinnerTeamA, 1))
		require.NoError(t, err)
	}
	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	for i := range pending {
		require.NoError(t, q.MarkFailed(ctx, &pending[i], errors.New("gateway timeout")))
	}

	n, err := q.RetryFailed(ctx, tripID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err = q.Pending(ctx, tripID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, item := range pending {
		assert.Zero(t, item.RetryCount)
		assert.Empty(t, item.LastError)
	}
}

func TestClearFailed(t *testing.T) {
	q, tripID := newTestQueue(t)
	ctx := context.Background()
	matchID := uuid.New()

	_, err := q.Enqueue(ctx, tripID, domain.KindHoleResult,
		domain.HoleResultEntityID(matchID, 9), domain.OpUpdate,
		holeResultPayload(t, matchID, 9, domain.WinnerTeamA, 1))
	require.NoError(t, err)
	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, &pending[0], errors.New("rejected")))

	n, err := q.ClearFailed(ctx, tripID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, err := q.Status(ctx, tripID)
	require.NoError(t, err)
	assert.Zero(t, status.FailedCount)
}

func TestHasUnresolved(t *testing.T) {
	q, tripID := newTestQueue(t)
	ctx := context.Background()
	matchID := uuid.New()
	entityID := domain.HoleResultEntityID(matchID, 7)

	ok, err := q.HasUnresolved(ctx, tripID, entityID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = q.Enqueue(ctx, tripID, domain.KindHoleResult, entityID, domain.OpUpdate,
		holeResultPayload(t, matchID, 7, domain.WinnerTeamA, 1))
	require.NoError(t, err)

	ok, err = q.HasUnresolved(ctx, tripID, entityID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Sending still counts: the submission is in flight, not resolved.
	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	require.NoError(t, q.MarkSending(ctx, &pending[0]))
	ok, err = q.HasUnresolved(ctx, tripID, entityID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, q.MarkDone(ctx, &pending[0]))
	ok, err = q.HasUnresolved(ctx, tripID, entityID)
	require.NoError(t, err)
	assert.False(t, ok)
}
