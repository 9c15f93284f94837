package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/queue"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/store"
)

type fakeRemote struct {
	mu        sync.Mutex
	submitted []domain.MutationQueueItem
	respond   func(item domain.MutationQueueItem) (domain.SubmitResult, error)
}

func (f *fakeRemote) Submit(_ context.Context, _ uuid.UUID, item domain.MutationQueueItem) (domain.SubmitResult, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, item)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(item)
	}
	return domain.SubmitResult{Accepted: true, NewRevision: 1}, nil
}

func (f *fakeRemote) calls() []domain.MutationQueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MutationQueueItem, len(f.submitted))
	copy(out, f.submitted)
	return out
}

type workerHarness struct {
	worker *Worker
	store  *store.Local
	queue  *queue.Queue
	remote *fakeRemote
	rec    *Reconciler
	tripID uuid.UUID
}

func newWorkerHarness(t *testing.T, cfg Config) *workerHarness {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/device.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tripID := uuid.New()
	q := queue.New(s)
	remote := &fakeRemote{}
	rec := NewReconciler(s, q, tripID, discardLogger())
	w := NewWorker(q, remote, rec, s, tripID, nil, cfg, discardLogger())
	return &workerHarness{worker: w, store: s, queue: q, remote: remote, rec: rec, tripID: tripID}
}

// enqueueHoleResult seeds the local row and queues the matching mutation, the
// way the engine does on a local edit.
func (h *workerHarness) enqueueHoleResult(t *testing.T, matchID uuid.UUID, hole int, winner domain.HoleWinner, revision int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.UpsertHoleResult(ctx, &domain.HoleResult{
		MatchID: matchID, Hole: hole, Winner: winner,
		Revision: revision, LastConfirmedRevision: revision - 1,
	}))
	payload, err := json.Marshal(domain.HoleResultPayload{MatchID: matchID, Hole: hole, Winner: winner, Revision: revision})
	require.NoError(t, err)
	id, err := h.queue.Enqueue(ctx, h.tripID, domain.KindHoleResult,
		domain.HoleResultEntityID(matchID, hole), domain.OpUpdate, payload)
	require.NoError(t, err)
	return id
}

func TestDrain_AcceptedItemMarkedDoneAndConfirmed(t *testing.T) {
	h := newWorkerHarness(t, DefaultConfig())
	ctx := context.Background()
	matchID := uuid.New()

	h.enqueueHoleResult(t, matchID, 7, domain.WinnerTeamA, 2)
	h.remote.respond = func(domain.MutationQueueItem) (domain.SubmitResult, error) {
		return domain.SubmitResult{Accepted: true, NewRevision: 2}, nil
	}

	require.NoError(t, h.worker.Drain(ctx))

	pending, err := h.queue.Pending(ctx, h.tripID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	hr, err := h.store.GetHoleResult(ctx, matchID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hr.LastConfirmedRevision)

	status, err := h.queue.Status(ctx, h.tripID)
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncAt)
}

func TestDrain_PerEntityOrderPreserved(t *testing.T) {
	h := newWorkerHarness(t, DefaultConfig())
	ctx := context.Background()
	matchID := uuid.New()

	first := h.enqueueHoleResult(t, matchID, 3, domain.WinnerTeamA, 1)
	second := h.enqueueHoleResult(t, matchID, 3, domain.WinnerTeamB, 2)

	require.NoError(t, h.worker.Drain(ctx))

	calls := h.remote.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, first, calls[0].ID)
	assert.Equal(t, second, calls[1].ID)
}

func TestDrain_TransportErrorSchedulesRetry(t *testing.T) {
	h := newWorkerHarness(t, DefaultConfig())
	ctx := context.Background()
	matchID := uuid.New()

	h.enqueueHoleResult(t, matchID, 5, domain.WinnerHalved, 1)
	h.remote.respond = func(domain.MutationQueueItem) (domain.SubmitResult, error) {
		return domain.SubmitResult{}, errors.New("dial tcp: i/o timeout")
	}

	require.NoError(t, h.worker.Drain(ctx))

	// Back on pending with a future attempt time; the item is not failed.
	items, err := h.store.ListQueueItems(ctx, h.tripID, domain.ItemPending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.True(t, items[0].NextAttemptAt.After(time.Now().UTC()))
	assert.Contains(t, items[0].LastError, "i/o timeout")

	// The scheduled delay keeps the next drain from resubmitting early.
	require.NoError(t, h.worker.Drain(ctx))
	assert.Len(t, h.remote.calls(), 1)
}

func TestDrain_ExhaustedRetriesParkItemAsFailed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.Backoff = Backoff{Base: time.Millisecond, Cap: time.Millisecond}
	h := newWorkerHarness(t, cfg)
	ctx := context.Background()
	matchID := uuid.New()

	h.enqueueHoleResult(t, matchID, 5, domain.WinnerTeamB, 1)
	h.remote.respond = func(domain.MutationQueueItem) (domain.SubmitResult, error) {
		return domain.SubmitResult{}, errors.New("connection refused")
	}

	require.NoError(t, h.worker.Drain(ctx))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, h.worker.Drain(ctx))

	failed, err := h.queue.Failed(ctx, h.tripID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, domain.CodeSyncTransport)
}

func TestDrain_StaleRejectionFailsItemAndAppliesAuthoritative(t *testing.T) {
	h := newWorkerHarness(t, DefaultConfig())
	ctx := context.Background()
	matchID := uuid.New()

	h.enqueueHoleResult(t, matchID, 11, domain.WinnerTeamA, 2)

	authoritative, err := json.Marshal(domain.HoleResult{MatchID: matchID, Hole: 11, Winner: domain.WinnerTeamB})
	require.NoError(t, err)
	h.remote.respond = func(domain.MutationQueueItem) (domain.SubmitResult, error) {
		return domain.SubmitResult{RejectedStale: true, CurrentRevision: 4, CurrentPayload: authoritative}, nil
	}

	require.NoError(t, h.worker.Drain(ctx))

	// The rejection is surfaced on the queue, and the authoritative value
	// replaces the rejected edit locally.
	failed, qErr := h.queue.Failed(ctx, h.tripID)
	require.NoError(t, qErr)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, domain.CodeStaleRevision)

	hr, err := h.store.GetHoleResult(ctx, matchID, 11)
	require.NoError(t, err)
	assert.Equal(t, domain.WinnerTeamB, hr.Winner)
	assert.Equal(t, int64(4), hr.LastConfirmedRevision)
}

func TestDrain_LaneStopsBehindBlockedItem(t *testing.T) {
	h := newWorkerHarness(t, DefaultConfig())
	ctx := context.Background()
	matchID := uuid.New()

	h.enqueueHoleResult(t, matchID, 8, domain.WinnerTeamA, 1)
	h.enqueueHoleResult(t, matchID, 8, domain.WinnerTeamB, 2)
	h.remote.respond = func(domain.MutationQueueItem) (domain.SubmitResult, error) {
		return domain.SubmitResult{}, errors.New("service unavailable")
	}

	require.NoError(t, h.worker.Drain(ctx))

	// Only the head of the lane was attempted; the second edit never
	// overtakes the first.
	assert.Len(t, h.remote.calls(), 1)
}

func TestDrain_DeliversItemStrandedInSending(t *testing.T) {
	h := newWorkerHarness(t, DefaultConfig())
	ctx := context.Background()
	matchID := uuid.New()

	h.enqueueHoleResult(t, matchID, 14, domain.WinnerTeamA, 1)

	// A crash between MarkSending and the submission's outcome leaves the
	// item in sending with nothing in flight.
	pending, err := h.queue.Pending(ctx, h.tripID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, h.queue.MarkSending(ctx, &pending[0]))

	h.remote.respond = func(domain.MutationQueueItem) (domain.SubmitResult, error) {
		return domain.SubmitResult{Accepted: true, NewRevision: 1}, nil
	}
	require.NoError(t, h.worker.Drain(ctx))

	assert.Len(t, h.remote.calls(), 1, "stranded item re-armed and delivered")
	sending, err := h.store.ListQueueItems(ctx, h.tripID, domain.ItemSending)
	require.NoError(t, err)
	assert.Empty(t, sending)

	hr, err := h.store.GetHoleResult(ctx, matchID, 14)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hr.LastConfirmedRevision)
}

func TestDrain_ExhaustedRetriesReleaseHeldRemoteValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	cfg.Backoff = Backoff{Base: time.Millisecond, Cap: time.Millisecond}
	h := newWorkerHarness(t, cfg)
	ctx := context.Background()
	matchID := uuid.New()

	h.enqueueHoleResult(t, matchID, 6, domain.WinnerTeamA, 2)

	// A feed event arrives while the local edit is queued; the reconciler
	// parks it behind the edit.
	require.NoError(t, h.rec.ApplyRemote(ctx, holeResultEvent(t, h.tripID, matchID, 6, domain.WinnerTeamB, 2)))
	require.Equal(t, 1, h.rec.HeldCount())

	h.remote.respond = func(domain.MutationQueueItem) (domain.SubmitResult, error) {
		return domain.SubmitResult{}, errors.New("no route to host")
	}
	require.NoError(t, h.worker.Drain(ctx))

	failed, err := h.queue.Failed(ctx, h.tripID)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// The edit's failure resolves the hold; the parked remote value lands.
	assert.Zero(t, h.rec.HeldCount())
	hr, err := h.store.GetHoleResult(ctx, matchID, 6)
	require.NoError(t, err)
	assert.Equal(t, domain.WinnerTeamB, hr.Winner)
	assert.Equal(t, int64(2), hr.LastConfirmedRevision)
}

func TestDrain_TerminalRejectionFailsWithoutRetry(t *testing.T) {
	h := newWorkerHarness(t, DefaultConfig())
	ctx := context.Background()
	matchID := uuid.New()

	h.enqueueHoleResult(t, matchID, 2, domain.WinnerTeamB, 1)
	h.remote.respond = func(domain.MutationQueueItem) (domain.SubmitResult, error) {
		return domain.SubmitResult{}, domain.ErrValidation("hole 2 already recorded for match")
	}

	require.NoError(t, h.worker.Drain(ctx))

	// Resubmitting the same payload cannot change a definitive rejection, so
	// the item parks on the first attempt.
	failed, err := h.queue.Failed(ctx, h.tripID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, domain.CodeValidation)
	assert.Len(t, h.remote.calls(), 1)

	require.NoError(t, h.worker.Drain(ctx))
	assert.Len(t, h.remote.calls(), 1, "no further attempts after a terminal rejection")
}

func TestStart_OfflineGateSkipsDrain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	s, err := store.Open(t.TempDir() + "/device.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tripID := uuid.New()
	q := queue.New(s)
	remote := &fakeRemote{}
	rec := NewReconciler(s, q, tripID, discardLogger())
	w := NewWorker(q, remote, rec, s, tripID, func() bool { return false }, cfg, discardLogger())

	ctx := context.Background()
	matchID := uuid.New()
	require.NoError(t, s.UpsertHoleResult(ctx, &domain.HoleResult{MatchID: matchID, Hole: 1, Winner: domain.WinnerTeamA, Revision: 1}))
	payload, err := json.Marshal(domain.HoleResultPayload{MatchID: matchID, Hole: 1, Winner: domain.WinnerTeamA, Revision: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, tripID, domain.KindHoleResult, domain.HoleResultEntityID(matchID, 1), domain.OpUpdate, payload)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(runCtx)
	}()
	w.Kick()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, remote.calls(), "no submissions while offline")
	pending, err := q.Pending(ctx, tripID)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "edit still queued for when connectivity returns")
}
