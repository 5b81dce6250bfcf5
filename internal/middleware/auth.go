package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/fleetpulse/fleetpulse/internal/httputil"
	"github.com/fleetpulse/fleetpulse/pkg/tokens"
)

const (
	UserIDKey   contextKey = "user_id"
	UsernameKey contextKey = "username"
	RoleKey     contextKey = "role"
)

// AgentHeader carries the shared secret presented by machine agents.
const AgentHeader = "X-API-Key"

// AuthMiddleware guards the two trust domains: machine agents presenting a
// shared credential and dashboard operators presenting session tokens.
type AuthMiddleware struct {
	agentSecret []byte
	tokens      *tokens.Generator
}

func NewAuthMiddleware(agentSecret string, gen *tokens.Generator) *AuthMiddleware {
	return &AuthMiddleware{
		agentSecret: []byte(agentSecret),
		tokens:      gen,
	}
}

// RequireAgent rejects requests that do not carry the agent shared secret.
// The comparison is constant-time. There is no lockout; agents retry on
// their own reconnect cadence.
func (m *AuthMiddleware) RequireAgent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(AgentHeader)
		if len(m.agentSecret) == 0 || key == "" ||
			subtle.ConstantTimeCompare([]byte(key), m.agentSecret) != 1 {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// RequireOperator rejects requests without a valid operator session token
// and stores the operator identity in the request context.
func (m *AuthMiddleware) RequireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := httputil.BearerToken(r)
		if token == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		claims, err := m.tokens.Validate(token)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, UsernameKey, claims.Username)
		ctx = context.WithValue(ctx, RoleKey, claims.Role)

		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// RequireRole wraps RequireOperator and additionally checks the operator's
// role claim.
func (m *AuthMiddleware) RequireRole(role string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return m.RequireOperator(func(w http.ResponseWriter, r *http.Request) {
			if got, ok := r.Context().Value(RoleKey).(string); !ok || got != role {
				httputil.WriteError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OperatorID returns the authenticated operator's user ID from the context.
func OperatorID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// OperatorName returns the authenticated operator's username from the context.
func OperatorName(ctx context.Context) string {
	if name, ok := ctx.Value(UsernameKey).(string); ok {
		return name
	}
	return ""
}
