//go:build integration

package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/server"
)

// PostJSON sends a JSON POST to the test server. An empty token sends no
// Authorization header.
func (env *TestEnv) PostJSON(t *testing.T, path string, body any, token string, headers map[string]string) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := env.Server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// GetJSON sends a GET to the test server.
func (env *TestEnv) GetJSON(t *testing.T, path, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, env.Server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.Server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// CreateTrip creates a trip through the API and returns it.
func (env *TestEnv) CreateTrip(t *testing.T, name string) *domain.Trip {
	t.Helper()

	resp := env.PostJSON(t, "/trips", map[string]string{"name": name}, "", nil)
	RequireStatus(t, resp, http.StatusCreated)

	var trip domain.Trip
	DecodeJSON(t, resp, &trip)
	require.NotEqual(t, uuid.Nil, trip.ID)
	require.NotEmpty(t, trip.ShareCode)
	return &trip
}

// JoinTrip exchanges a share code for a device token.
func (env *TestEnv) JoinTrip(t *testing.T, shareCode string, deviceID uuid.UUID, name string) string {
	t.Helper()

	resp := env.PostJSON(t, "/trips/join", map[string]any{
		"share_code": shareCode,
		"device_id":  deviceID,
		"name":       name,
	}, "", nil)
	RequireStatus(t, resp, http.StatusOK)

	var joined struct {
		Trip  *domain.Trip `json:"trip"`
		Token string       `json:"token"`
	}
	DecodeJSON(t, resp, &joined)
	require.NotEmpty(t, joined.Token)
	return joined.Token
}

// SubmitMutation posts one mutation for the trip and returns the raw response.
func (env *TestEnv) SubmitMutation(t *testing.T, tripID uuid.UUID, token string, req server.MutationRequest) *http.Response {
	t.Helper()
	return env.PostJSON(t, "/trips/"+tripID.String()+"/mutations", req, token, nil)
}

// NewMatchMutation builds a match create mutation with a fresh match.
func NewMatchMutation(tripID uuid.UUID, format domain.MatchFormat) (server.MutationRequest, *domain.Match) {
	match := &domain.Match{
		ID:     uuid.New(),
		TripID: tripID,
		Format: format,
		Status: domain.MatchScheduled,
	}
	payload, _ := json.Marshal(domain.MatchPayload{Match: *match})
	return server.MutationRequest{
		ID:        uuid.New(),
		Kind:      domain.KindMatch,
		EntityID:  match.ID.String(),
		Operation: domain.OpCreate,
		Payload:   payload,
	}, match
}

// NewHoleResultMutation builds a hole result mutation at the given revision.
func NewHoleResultMutation(matchID uuid.UUID, hole int, winner domain.HoleWinner, revision int64) server.MutationRequest {
	payload, _ := json.Marshal(domain.HoleResultPayload{
		MatchID:  matchID,
		Hole:     hole,
		Winner:   winner,
		Revision: revision,
	})
	return server.MutationRequest{
		ID:        uuid.New(),
		Kind:      domain.KindHoleResult,
		EntityID:  domain.HoleResultEntityID(matchID, hole),
		Operation: domain.OpUpdate,
		Payload:   payload,
	}
}
