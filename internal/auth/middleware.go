package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// ClaimsFromContext extracts device token claims from request context.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// AuthenticateDevice validates the bearer token and stores its claims in the
// request context. The token may also arrive as ?token= for websocket
// clients that cannot set headers.
func AuthenticateDevice(jwtMgr *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractAndValidate(r, jwtMgr)
			if err != nil {
				http.Error(w, `{"code":"UNAUTHORIZED","message":"`+err.Error()+`"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTripScope rejects requests whose token is scoped to a different
// trip than the {tripID} URL parameter names. A valid token for trip A is
// not a valid token for trip B.
func RequireTripScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			http.Error(w, `{"code":"UNAUTHORIZED","message":"no auth context"}`, http.StatusUnauthorized)
			return
		}
		tripID, err := uuid.Parse(chi.URLParam(r, "tripID"))
		if err != nil {
			http.Error(w, `{"code":"VALIDATION_ERROR","message":"malformed trip id"}`, http.StatusBadRequest)
			return
		}
		if claims.TripID != tripID {
			http.Error(w, `{"code":"FORBIDDEN","message":"token is not scoped to this trip"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAndValidate(r *http.Request, jwtMgr *JWTManager) (*Claims, error) {
	raw := ""
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return nil, fmt.Errorf("invalid Authorization format")
		}
		raw = parts[1]
	} else if q := r.URL.Query().Get("token"); q != "" {
		raw = q
	}
	if raw == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	return jwtMgr.ValidateToken(raw)
}
