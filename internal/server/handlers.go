package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/auth"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

const feedReplayBatch = 500

// Handler serves the scoring API: trip lifecycle, mutation submission, and
// the websocket change feed.
type Handler struct {
	repo    *Repo
	hub     *Hub
	jwtMgr  *auth.JWTManager
	logger  *slog.Logger
	limiter *RateLimiter

	upgrader websocket.Upgrader
}

// NewHandler assembles the API handler.
func NewHandler(repo *Repo, hub *Hub, jwtMgr *auth.JWTManager, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		hub:    hub,
		jwtMgr: jwtMgr,
		logger: logger,
		// Generous for humans scoring golf, tight enough to stop a retry
		// storm from a misbehaving device.
		limiter:  NewRateLimiter(120, time.Minute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Device tokens are the access control; origin checks do not
			// apply to the native clients this serves.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type createTripRequest struct {
	Name string `json:"name"`
}

// CreateTrip creates a trip and returns it with its share code.
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req createTripRequest
	if err := DecodeJSON(r, &req); err != nil || req.Name == "" {
		RespondError(w, domain.ErrValidation("trip name is required"))
		return
	}
	trip, err := h.repo.CreateTrip(r.Context(), req.Name)
	if err != nil {
		h.logger.Error("create trip", "error", err)
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, trip)
}

type joinRequest struct {
	ShareCode string    `json:"share_code"`
	DeviceID  uuid.UUID `json:"device_id"`
	Name      string    `json:"name"`
}

type joinResponse struct {
	Trip  *domain.Trip `json:"trip"`
	Token string       `json:"token"`
}

// Join exchanges a share code for a trip-scoped device token.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("malformed join request"))
		return
	}
	if req.ShareCode == "" || req.DeviceID == uuid.Nil {
		RespondError(w, domain.ErrValidation("share_code and device_id are required"))
		return
	}

	trip, err := h.repo.GetTripByShareCode(r.Context(), req.ShareCode)
	if err != nil {
		if domain.IsCode(err, domain.CodeNotFound) {
			// Do not confirm which share codes exist.
			RespondError(w, domain.ErrUnauthorized("unknown share code"))
			return
		}
		h.logger.Error("join lookup", "error", err)
		RespondError(w, err)
		return
	}

	token, err := h.jwtMgr.IssueDeviceToken(trip.ID, req.DeviceID, req.Name)
	if err != nil {
		h.logger.Error("issue device token", "error", err)
		RespondError(w, domain.ErrInternal("issue token", err))
		return
	}
	h.logger.Info("device joined trip", "trip_id", trip.ID, "device_id", req.DeviceID)
	RespondJSON(w, http.StatusOK, joinResponse{Trip: trip, Token: token})
}

type submitResponse struct {
	NewRevision int64 `json:"new_revision"`
}

// SubmitMutation applies one device mutation against the authoritative
// state. The Idempotency-Key header (or the mutation id) makes retries safe:
// a duplicate returns the recorded outcome without re-applying.
func (h *Handler) SubmitMutation(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	tripID := claims.TripID

	var req MutationRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("malformed mutation"))
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		id, err := uuid.Parse(key)
		if err != nil {
			RespondError(w, domain.ErrValidation("Idempotency-Key must be a UUID"))
			return
		}
		req.ID = id
	}
	if req.ID == uuid.Nil {
		RespondError(w, domain.ErrValidation("mutation id is required"))
		return
	}

	outcome, ev, err := h.repo.SubmitMutation(r.Context(), tripID, claims.DeviceID(), req)
	if err != nil {
		h.logger.Warn("mutation rejected", "trip_id", tripID, "mutation_id", req.ID, "error", err)
		RespondError(w, err)
		return
	}
	if ev != nil {
		h.hub.Broadcast(*ev)
	}

	if outcome.Stale {
		RespondJSON(w, http.StatusConflict, ErrorBody{
			Code:            domain.CodeStaleRevision,
			Message:         "submission is based on a stale revision",
			CurrentRevision: outcome.CurrentRevision,
			CurrentPayload:  outcome.CurrentPayload,
		})
		return
	}
	RespondJSON(w, http.StatusOK, submitResponse{NewRevision: outcome.NewRevision})
}

type snapshotResponse struct {
	Matches     []domain.Match      `json:"matches"`
	HoleResults []domain.HoleResult `json:"hole_results"`
	FeedSeq     int64               `json:"feed_seq"`
}

// Snapshot returns the trip's full confirmed state plus the feed position it
// reflects, for first-sync hydration of a new device.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	tripID := auth.ClaimsFromContext(r.Context()).TripID

	matches, err := h.repo.ListMatches(r.Context(), tripID)
	if err != nil {
		h.logger.Error("snapshot matches", "error", err)
		RespondError(w, err)
		return
	}
	results, err := h.repo.ListHoleResults(r.Context(), tripID)
	if err != nil {
		h.logger.Error("snapshot hole results", "error", err)
		RespondError(w, err)
		return
	}
	feedSeq, err := h.repo.FeedTail(r.Context(), tripID)
	if err != nil {
		h.logger.Error("snapshot feed position", "error", err)
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snapshotResponse{Matches: matches, HoleResults: results, FeedSeq: feedSeq})
}

// Feed upgrades to a websocket and streams the trip's change feed from the
// after cursor: durable replay first, then live events.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	tripID := auth.ClaimsFromContext(r.Context()).TripID

	after := int64(0)
	if s := r.URL.Query().Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			RespondError(w, domain.ErrValidation("after must be a non-negative integer"))
			return
		}
		after = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "trip_id", tripID, "error", err)
		return
	}
	h.logger.Info("feed subscriber connected", "trip_id", tripID, "after", after)

	h.hub.Serve(r.Context(), conn, tripID, after, func(ctx context.Context, cursor int64) ([]domain.ChangeEvent, error) {
		var all []domain.ChangeEvent
		for {
			batch, err := h.repo.FeedSince(ctx, tripID, cursor, feedReplayBatch)
			if err != nil {
				return nil, err
			}
			all = append(all, batch...)
			if len(batch) < feedReplayBatch {
				return all, nil
			}
			cursor = batch[len(batch)-1].Seq
		}
	})
	h.logger.Info("feed subscriber disconnected", "trip_id", tripID)
}

// Health reports liveness and database reachability.
func Health(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Routes mounts the API onto a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/trips", h.CreateTrip)
	r.Post("/trips/join", h.Join)

	r.Route("/trips/{tripID}", func(r chi.Router) {
		r.Use(auth.AuthenticateDevice(h.jwtMgr))
		r.Use(auth.RequireTripScope)
		r.With(h.limiter.Middleware).Post("/mutations", h.SubmitMutation)
		r.Get("/snapshot", h.Snapshot)
		r.Get("/feed", h.Feed)
	})
}
