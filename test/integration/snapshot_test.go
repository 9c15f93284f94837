//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/test/integration/testutil"
)

type snapshotBody struct {
	Matches     []domain.Match      `json:"matches"`
	HoleResults []domain.HoleResult `json:"hole_results"`
	FeedSeq     int64               `json:"feed_seq"`
}

func fetchSnapshot(t *testing.T, env *testutil.TestEnv, tripID uuid.UUID, token string) snapshotBody {
	t.Helper()
	resp := env.GetJSON(t, "/trips/"+tripID.String()+"/snapshot", token)
	testutil.RequireStatus(t, resp, http.StatusOK)
	var snap snapshotBody
	testutil.DecodeJSON(t, resp, &snap)
	return snap
}

func snapshotFeedSeq(t *testing.T, env *testutil.TestEnv, tripID uuid.UUID, token string) int64 {
	t.Helper()
	return fetchSnapshot(t, env, tripID, token).FeedSeq
}

func TestSnapshot_ReflectsConfirmedState(t *testing.T) {
	env := testutil.NewTestEnv(t)
	trip, token, match := setupTripWithMatch(t, env)

	for hole := 1; hole <= 3; hole++ {
		resp := env.SubmitMutation(t, trip.ID, token,
			testutil.NewHoleResultMutation(match.ID, hole, domain.WinnerTeamA, 1))
		testutil.RequireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	snap := fetchSnapshot(t, env, trip.ID, token)
	require.Len(t, snap.Matches, 1)
	require.Equal(t, match.ID, snap.Matches[0].ID)
	require.Len(t, snap.HoleResults, 3)
	for _, hr := range snap.HoleResults {
		require.Equal(t, domain.WinnerTeamA, hr.Winner)
		require.Equal(t, int64(1), hr.Revision)
		// The snapshot is confirmed state, so both revision counters agree.
		require.Equal(t, hr.Revision, hr.LastConfirmedRevision)
	}
	// Match create plus three hole results.
	require.Equal(t, int64(4), snap.FeedSeq)
}

func TestSnapshot_EmptyTrip(t *testing.T) {
	env := testutil.NewTestEnv(t)
	trip := env.CreateTrip(t, "Quiet trip")
	token := env.JoinTrip(t, trip.ShareCode, uuid.New(), "early device")

	snap := fetchSnapshot(t, env, trip.ID, token)
	require.Empty(t, snap.Matches)
	require.Empty(t, snap.HoleResults)
	require.Zero(t, snap.FeedSeq)
}
