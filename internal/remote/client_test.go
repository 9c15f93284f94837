package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func queuedItem(t *testing.T, matchID uuid.UUID, hole int, winner domain.HoleWinner, rev int64) domain.MutationQueueItem {
	t.Helper()
	payload, err := json.Marshal(domain.HoleResultPayload{MatchID: matchID, Hole: hole, Winner: winner, Revision: rev})
	require.NoError(t, err)
	return domain.MutationQueueItem{
		ID:        uuid.New(),
		Kind:      domain.KindHoleResult,
		EntityID:  domain.HoleResultEntityID(matchID, hole),
		Operation: domain.OpUpdate,
		Payload:   payload,
	}
}

func TestSubmit_Accepted(t *testing.T) {
	tripID := uuid.New()
	item := queuedItem(t, uuid.New(), 7, domain.WinnerTeamA, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/trips/"+tripID.String()+"/mutations", r.URL.Path)
		assert.Equal(t, item.ID.String(), r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer device-token", r.Header.Get("Authorization"))

		var req struct {
			ID       uuid.UUID `json:"id"`
			EntityID string    `json:"entity_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, item.ID, req.ID)
		assert.Equal(t, item.EntityID, req.EntityID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"new_revision": 2})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "device-token", testLogger())
	res, err := c.Submit(context.Background(), tripID, item)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(2), res.NewRevision)
}

func TestSubmit_StaleRejectionIsOutcomeNotError(t *testing.T) {
	tripID := uuid.New()
	item := queuedItem(t, uuid.New(), 4, domain.WinnerTeamB, 1)
	authoritative := json.RawMessage(`{"winner":"teamA"}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"code":             domain.CodeStaleRevision,
			"message":          "stale",
			"current_revision": 5,
			"current_payload":  authoritative,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "device-token", testLogger())
	res, err := c.Submit(context.Background(), tripID, item)
	require.NoError(t, err)
	assert.True(t, res.RejectedStale)
	assert.False(t, res.Accepted)
	assert.Equal(t, int64(5), res.CurrentRevision)
	assert.JSONEq(t, string(authoritative), string(res.CurrentPayload))
}

func TestSubmit_ServerErrorIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "device-token", testLogger())
	_, err := c.Submit(context.Background(), uuid.New(), queuedItem(t, uuid.New(), 1, domain.WinnerHalved, 1))
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeSyncTransport))
}

func TestSubmit_UnauthorizedSurfacedAsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"code": domain.CodeUnauthorized, "message": "token expired"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "stale-token", testLogger())
	_, err := c.Submit(context.Background(), uuid.New(), queuedItem(t, uuid.New(), 1, domain.WinnerTeamA, 1))
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeUnauthorized))
}

func TestJoin(t *testing.T) {
	trip := domain.Trip{ID: uuid.New(), Name: "Scotland 2026", ShareCode: "LINKS-42"}
	deviceID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trips/join", r.URL.Path)
		var req JoinRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "LINKS-42", req.ShareCode)
		assert.Equal(t, deviceID, req.DeviceID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JoinResponse{Trip: trip, Token: "issued-token"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())
	res, err := c.Join(context.Background(), JoinRequest{ShareCode: "LINKS-42", DeviceID: deviceID, Name: "Pat's phone"})
	require.NoError(t, err)
	assert.Equal(t, trip.ID, res.Trip.ID)
	assert.Equal(t, "issued-token", res.Token)
}

func TestSubscribe_DeliversEventsInOrder(t *testing.T) {
	tripID := uuid.New()
	matchID := uuid.New()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trips/"+tripID.String()+"/feed", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("after"))
		assert.Equal(t, "Bearer device-token", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for seq := int64(4); seq <= 6; seq++ {
			require.NoError(t, conn.WriteJSON(domain.ChangeEvent{
				Seq:      seq,
				TripID:   tripID,
				Kind:     domain.KindHoleResult,
				EntityID: domain.HoleResultEntityID(matchID, int(seq)),
				Revision: seq,
			}))
		}
		// Hold the connection open until the client hangs up.
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "device-token", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int64
	err := c.Subscribe(ctx, tripID, 3, func(ev domain.ChangeEvent) error {
		got = append(got, ev.Seq)
		if ev.Seq == 6 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{4, 5, 6}, got)
}

func TestSubscribe_HandlerErrorStopsFeed(t *testing.T) {
	tripID := uuid.New()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.WriteJSON(domain.ChangeEvent{Seq: 1, TripID: tripID, Kind: domain.KindHoleResult})
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "device-token", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Subscribe(ctx, tripID, 0, func(domain.ChangeEvent) error {
		return domain.ErrInternal("handler refused event", nil)
	})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeInternal))
	assert.False(t, strings.Contains(err.Error(), "read feed"))
}
