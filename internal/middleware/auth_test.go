package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/pkg/tokens"
)

func okHandler(called *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}
}

func TestRequireAgent(t *testing.T) {
	mw := NewAuthMiddleware("secret", nil)

	cases := []struct {
		name string
		key  string
		want int
	}{
		{"valid key", "secret", http.StatusOK},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"empty key", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			req := httptest.NewRequest(http.MethodPost, "/api/telemetry", nil)
			if tc.key != "" {
				req.Header.Set(AgentHeader, tc.key)
			}
			rec := httptest.NewRecorder()
			mw.RequireAgent(okHandler(&called))(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, tc.want == http.StatusOK, called)
		})
	}
}

// A server configured with an empty secret must not accept anything,
// including an empty header that would trivially "match".
func TestRequireAgentEmptyConfiguredSecret(t *testing.T) {
	mw := NewAuthMiddleware("", nil)

	called := false
	req := httptest.NewRequest(http.MethodPost, "/api/telemetry", nil)
	req.Header.Set(AgentHeader, "")
	rec := httptest.NewRecorder()
	mw.RequireAgent(okHandler(&called))(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestRequireOperator(t *testing.T) {
	gen := tokens.NewGenerator("jwt-secret", time.Hour)
	mw := NewAuthMiddleware("agent", gen)

	token, err := gen.Generate("U1", "ops", "admin")
	require.NoError(t, err)

	t.Run("valid token stores identity", func(t *testing.T) {
		var gotID, gotName string
		req := httptest.NewRequest(http.MethodGet, "/api/machines", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		mw.RequireOperator(func(w http.ResponseWriter, r *http.Request) {
			gotID = OperatorID(r.Context())
			gotName = OperatorName(r.Context())
			w.WriteHeader(http.StatusOK)
		})(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "U1", gotID)
		assert.Equal(t, "ops", gotName)
	})

	t.Run("missing header", func(t *testing.T) {
		called := false
		req := httptest.NewRequest(http.MethodGet, "/api/machines", nil)
		rec := httptest.NewRecorder()
		mw.RequireOperator(okHandler(&called))(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, called)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		other := tokens.NewGenerator("different", time.Hour)
		forged, err := other.Generate("U1", "ops", "admin")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/machines", nil)
		req.Header.Set("Authorization", "Bearer "+forged)
		rec := httptest.NewRecorder()
		called := false
		mw.RequireOperator(okHandler(&called))(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, called)
	})
}

func TestRequireRole(t *testing.T) {
	gen := tokens.NewGenerator("jwt-secret", time.Hour)
	mw := NewAuthMiddleware("agent", gen)

	adminToken, err := gen.Generate("U1", "ops", "admin")
	require.NoError(t, err)
	viewerToken, err := gen.Generate("U2", "viewer", "viewer")
	require.NoError(t, err)

	run := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/api/machines/M1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		called := false
		mw.RequireRole("admin")(okHandler(&called))(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, run(adminToken).Code)
	assert.Equal(t, http.StatusForbidden, run(viewerToken).Code)
}
