//go:build integration

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/server"
)

// DecodeJSON reads and decodes the response body, then closes it.
func DecodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

// RequireStatus fails the test with the response body if the status differs.
func RequireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

// UnmarshalPayload decodes a feed event payload.
func UnmarshalPayload(t *testing.T, payload []byte, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(payload, dst))
}

// RequireErrorCode asserts both the HTTP status and the API error code, and
// returns the decoded error body for further checks.
func RequireErrorCode(t *testing.T, resp *http.Response, status int, code string) server.ErrorBody {
	t.Helper()
	RequireStatus(t, resp, status)
	var body server.ErrorBody
	DecodeJSON(t, resp, &body)
	require.Equal(t, code, body.Code)
	return body
}
