package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

func feedEvent(tripID uuid.UUID, seq int64) domain.ChangeEvent {
	return domain.ChangeEvent{
		Seq:            seq,
		TripID:         tripID,
		Kind:           domain.KindHoleResult,
		EntityID:       "entity",
		Operation:      domain.OpUpdate,
		Revision:       seq,
		Payload:        json.RawMessage(`{}`),
		OriginDeviceID: "test-device",
		OccurredAt:     time.Now().UTC(),
	}
}

// hubServer upgrades each connection and runs hub.Serve with the given
// replay events.
func hubServer(t *testing.T, hub *Hub, tripID uuid.UUID, after int64, replay []domain.ChangeEvent) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(context.Background(), conn, tripID, after, func(context.Context, int64) ([]domain.ChangeEvent, error) {
			return replay, nil
		})
	}))
	t.Cleanup(srv.Close)

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFeedEvent(t *testing.T, conn *websocket.Conn) domain.ChangeEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_ReplaysBeforeLive(t *testing.T) {
	hub := NewHub(discardLogger())
	tripID := uuid.New()
	replay := []domain.ChangeEvent{feedEvent(tripID, 1), feedEvent(tripID, 2)}

	conn := hubServer(t, hub, tripID, 0, replay)

	require.Equal(t, int64(1), readFeedEvent(t, conn).Seq)
	require.Equal(t, int64(2), readFeedEvent(t, conn).Seq)

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(tripID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(feedEvent(tripID, 3))
	require.Equal(t, int64(3), readFeedEvent(t, conn).Seq)
}

func TestHub_DropsEventsAtOrBelowCursor(t *testing.T) {
	hub := NewHub(discardLogger())
	tripID := uuid.New()

	conn := hubServer(t, hub, tripID, 5, nil)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(tripID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Seq 5 was already covered by the caller's cursor; only 6 goes out.
	hub.Broadcast(feedEvent(tripID, 5))
	hub.Broadcast(feedEvent(tripID, 6))
	require.Equal(t, int64(6), readFeedEvent(t, conn).Seq)
}

func TestHub_BroadcastScopedToTrip(t *testing.T) {
	hub := NewHub(discardLogger())
	tripA := uuid.New()
	tripB := uuid.New()

	conn := hubServer(t, hub, tripA, 0, nil)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(tripA) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(feedEvent(tripB, 1))
	hub.Broadcast(feedEvent(tripA, 2))
	require.Equal(t, int64(2), readFeedEvent(t, conn).Seq)
}

func TestHub_LeaveOnDisconnect(t *testing.T) {
	hub := NewHub(discardLogger())
	tripID := uuid.New()

	conn := hubServer(t, hub, tripID, 0, nil)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(tripID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(tripID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
