package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/queue"
)

// ReconcilerStore is the slice of local storage the reconciler writes.
type ReconcilerStore interface {
	GetHoleResult(ctx context.Context, matchID uuid.UUID, hole int) (*domain.HoleResult, error)
	UpsertHoleResult(ctx context.Context, hr *domain.HoleResult) error
	UpsertMatch(ctx context.Context, m *domain.Match) error
}

// Reconciler applies remote-origin changes to local state.
//
// Policy: last-confirmed-writer-wins with optimistic local precedence. A
// remote change for an entity with a local edit still in flight is held, not
// applied; it lands only if the local edit loses. Conflicts are surfaced via
// failed queue items, never silently merged.
type Reconciler struct {
	store  ReconcilerStore
	queue  *queue.Queue
	tripID uuid.UUID
	logger *slog.Logger

	mu   sync.Mutex
	held map[string]domain.ChangeEvent
}

// NewReconciler creates a reconciler for one trip's entities. The trip scope
// is structural: events from other trips are rejected, not ignored.
func NewReconciler(store ReconcilerStore, q *queue.Queue, tripID uuid.UUID, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		queue:  q,
		tripID: tripID,
		logger: logger,
		held:   make(map[string]domain.ChangeEvent),
	}
}

// ApplyRemote handles one incoming change event from the trip feed.
func (r *Reconciler) ApplyRemote(ctx context.Context, ev domain.ChangeEvent) error {
	if ev.TripID != r.tripID {
		return domain.ErrForbidden(fmt.Sprintf("change event for trip %s delivered to trip %s subscriber", ev.TripID, r.tripID))
	}

	localPending, err := r.queue.HasUnresolved(ctx, r.tripID, ev.EntityID)
	if err != nil {
		return fmt.Errorf("check pending edits: %w", err)
	}
	if localPending {
		// Local edit wins optimistically until its submission resolves.
		r.hold(ev)
		r.logger.Debug("remote change held behind local pending edit",
			"entity_id", ev.EntityID, "remote_revision", ev.Revision)
		return nil
	}
	return r.apply(ctx, ev)
}

func (r *Reconciler) hold(ev domain.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.held[ev.EntityID]; ok && prev.Seq >= ev.Seq {
		return
	}
	r.held[ev.EntityID] = ev
}

func (r *Reconciler) takeHeld(entityID string) (domain.ChangeEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.held[entityID]
	if ok {
		delete(r.held, entityID)
	}
	return ev, ok
}

// HeldCount reports how many remote values are parked behind local edits.
func (r *Reconciler) HeldCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

func (r *Reconciler) apply(ctx context.Context, ev domain.ChangeEvent) error {
	switch ev.Kind {
	case domain.KindHoleResult:
		return r.applyHoleResult(ctx, ev)
	case domain.KindMatch:
		return r.applyMatch(ctx, ev)
	default:
		r.logger.Warn("ignoring change event for unhandled kind", "kind", ev.Kind)
		return nil
	}
}

func (r *Reconciler) applyHoleResult(ctx context.Context, ev domain.ChangeEvent) error {
	var remote domain.HoleResult
	if err := json.Unmarshal(ev.Payload, &remote); err != nil {
		return fmt.Errorf("decode remote hole result: %w", err)
	}

	local, err := r.store.GetHoleResult(ctx, remote.MatchID, remote.Hole)
	if err != nil && !domain.IsCode(err, domain.CodeNotFound) {
		return fmt.Errorf("load local hole result: %w", err)
	}
	if local != nil && ev.Revision <= local.LastConfirmedRevision {
		// Already reflected locally; feed replay after reconnect.
		return nil
	}

	remote.Revision = ev.Revision
	remote.LastConfirmedRevision = ev.Revision
	if err := r.store.UpsertHoleResult(ctx, &remote); err != nil {
		return fmt.Errorf("apply remote hole result: %w", err)
	}
	return nil
}

func (r *Reconciler) applyMatch(ctx context.Context, ev domain.ChangeEvent) error {
	var m domain.Match
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		return fmt.Errorf("decode remote match: %w", err)
	}
	if err := r.store.UpsertMatch(ctx, &m); err != nil {
		return fmt.Errorf("apply remote match: %w", err)
	}
	return nil
}

// ConfirmLocal records that the remote accepted our submission for entityID
// at newRevision: the local value stands, and any held remote value for the
// entity is superseded and dropped.
func (r *Reconciler) ConfirmLocal(ctx context.Context, kind domain.EntityKind, entityID string, newRevision int64) error {
	if _, wasHeld := r.takeHeld(entityID); wasHeld {
		r.logger.Debug("held remote change superseded by confirmed local edit", "entity_id", entityID)
	}
	if kind != domain.KindHoleResult {
		return nil
	}
	matchID, hole, err := domain.ParseHoleResultEntityID(entityID)
	if err != nil {
		return err
	}
	local, err := r.store.GetHoleResult(ctx, matchID, hole)
	if err != nil {
		return fmt.Errorf("load confirmed hole result: %w", err)
	}
	// Counters only move forward. A later local edit may already have pushed
	// Revision past this confirmation; rewinding it would make the next edit
	// reuse a revision number already on the wire.
	if newRevision > local.LastConfirmedRevision {
		local.LastConfirmedRevision = newRevision
	}
	if local.Revision < local.LastConfirmedRevision {
		local.Revision = local.LastConfirmedRevision
	}
	if err := r.store.UpsertHoleResult(ctx, local); err != nil {
		return fmt.Errorf("record confirmed revision: %w", err)
	}
	return nil
}

// ResolveFailed records that the local submission for entityID failed
// terminally without the remote reporting an authoritative value: any held
// remote change is released. It goes back through ApplyRemote so a later
// pending edit for the same entity re-holds it instead of losing precedence.
func (r *Reconciler) ResolveFailed(ctx context.Context, entityID string) error {
	ev, ok := r.takeHeld(entityID)
	if !ok {
		return nil
	}
	return r.ApplyRemote(ctx, ev)
}

// ResolveRejected records that the remote rejected our submission for
// entityID as stale: the authoritative value is applied locally and the
// user's intent stays visible on the failed queue item for manual re-entry.
func (r *Reconciler) ResolveRejected(ctx context.Context, kind domain.EntityKind, entityID string, currentRevision int64, currentPayload json.RawMessage) error {
	held, wasHeld := r.takeHeld(entityID)

	// Prefer the freshest authoritative value we know about.
	payload := currentPayload
	revision := currentRevision
	if wasHeld && held.Revision > revision {
		payload = held.Payload
		revision = held.Revision
	}
	if len(payload) == 0 {
		r.logger.Warn("stale rejection carried no authoritative payload", "entity_id", entityID)
		return nil
	}

	return r.apply(ctx, domain.ChangeEvent{
		TripID:   r.tripID,
		Kind:     kind,
		EntityID: entityID,
		Revision: revision,
		Payload:  payload,
	})
}
