package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Hub fans live change events out to websocket subscribers, one room per
// trip. Replay of missed events is the feed table's job; the hub only
// carries what happens while a subscriber is connected.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[*subscriber]struct{}
	logger *slog.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	// lastSeq guards the replay/live handoff: live events at or below the
	// last replayed seq are duplicates and get dropped.
	lastSeq int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]map[*subscriber]struct{}),
		logger: logger,
	}
}

func (h *Hub) join(tripID uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[tripID] == nil {
		h.rooms[tripID] = make(map[*subscriber]struct{})
	}
	h.rooms[tripID][sub] = struct{}{}
}

func (h *Hub) leave(tripID uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[tripID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.rooms, tripID)
		}
	}
}

// Broadcast queues a change event to every subscriber of its trip. Slow
// consumers are skipped rather than blocking the caller; they recover by
// reconnecting and replaying from their cursor.
func (h *Hub) Broadcast(ev domain.ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode change event", "error", err, "seq", ev.Seq)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[ev.TripID] {
		select {
		case sub.send <- payload:
		default:
			h.logger.Warn("subscriber send buffer full, dropping event",
				"trip_id", ev.TripID, "seq", ev.Seq)
		}
	}
}

// SubscriberCount reports live subscribers for a trip.
func (h *Hub) SubscriberCount(tripID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tripID])
}

// Serve runs one subscriber's session: registers it in the trip room,
// replays the feed from the caller's cursor, then streams live events until
// the connection drops or ctx ends. The subscriber is registered before the
// replay query so no event falls between replay and live.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, tripID uuid.UUID, after int64, replay func(ctx context.Context, after int64) ([]domain.ChangeEvent, error)) {
	sub := &subscriber{conn: conn, send: make(chan []byte, sendBufferSize), lastSeq: after}
	h.join(tripID, sub)
	defer h.leave(tripID, sub)
	defer conn.Close()

	events, err := replay(ctx, after)
	if err != nil {
		h.logger.Error("feed replay failed", "trip_id", tripID, "after", after, "error", err)
		return
	}
	for _, ev := range events {
		if err := sub.writeEvent(ev.Seq, nil, &ev); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go sub.readLoop(done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-done:
			return
		case payload := <-sub.send:
			var ev domain.ChangeEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			if err := sub.writeEvent(ev.Seq, payload, nil); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeEvent sends one event unless it was already covered by replay.
func (s *subscriber) writeEvent(seq int64, payload []byte, ev *domain.ChangeEvent) error {
	if seq <= s.lastSeq {
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	var err error
	if payload != nil {
		err = s.conn.WriteMessage(websocket.TextMessage, payload)
	} else {
		err = s.conn.WriteJSON(ev)
	}
	if err != nil {
		return err
	}
	s.lastSeq = seq
	return nil
}

// readLoop drains client frames so pongs and close frames are processed.
func (s *subscriber) readLoop(done chan<- struct{}) {
	defer close(done)
	s.conn.SetReadLimit(1024)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
