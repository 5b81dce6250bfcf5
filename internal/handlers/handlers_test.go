package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/alerting"
	"github.com/fleetpulse/fleetpulse/internal/cache"
	"github.com/fleetpulse/fleetpulse/internal/handlers"
	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/middleware"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/realtime"
	"github.com/fleetpulse/fleetpulse/internal/repository"
	"github.com/fleetpulse/fleetpulse/internal/server"
	"github.com/fleetpulse/fleetpulse/internal/service"
	"github.com/fleetpulse/fleetpulse/pkg/tokens"
)

const testAgentKey = "test-agent-key"

type testEnv struct {
	router http.Handler
	repo   *repository.InMemoryRepository
	auth   *service.AuthService
	tokens *tokens.Generator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.Default()
	repo := repository.NewInMemoryRepository()
	gen := tokens.NewGenerator("test-secret", time.Hour)
	hub := realtime.NewHub()

	evaluator := alerting.NewEvaluator(repo, hub, logger)
	sampleCache := cache.NewSampleCache(nil, 0)
	fleetSvc := service.NewFleetService(repo, sampleCache, evaluator, hub, logger)
	authSvc := service.NewAuthService(repo, gen, logger)
	policySvc := service.NewPolicyService(repo, logger)

	authMw := middleware.NewAuthMiddleware(testAgentKey, gen)
	router := server.NewRouter(server.Handlers{
		Auth:      handlers.NewAuthHandler(authSvc, gen, logger),
		Telemetry: handlers.NewTelemetryHandler(fleetSvc, logger),
		Machines:  handlers.NewMachineHandler(fleetSvc, logger),
		Alerts:    handlers.NewAlertHandler(policySvc, logger),
		Events:    handlers.NewEventsHandler(hub, logger),
	}, authMw, middleware.CORSConfig{AllowedOrigins: []string{"*"}})

	return &testEnv{router: router, repo: repo, auth: authSvc, tokens: gen}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func agentHeaders() map[string]string {
	return map[string]string{middleware.AgentHeader: testAgentKey}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// operatorToken runs the setup flow and returns a valid admin token.
func (e *testEnv) operatorToken(t *testing.T) string {
	t.Helper()
	setupToken, err := e.auth.EnsureSetupToken(context.Background())
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/auth/setup", models.SetupRequest{
		Username: "ops", Password: "long-enough", SetupToken: setupToken,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/auth/login", models.LoginRequest{
		Username: "ops", Password: "long-enough",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func telemetryBody() map[string]any {
	return map[string]any{
		"machine": map[string]any{"id": "M1", "hostname": "host-a"},
		"metrics": map[string]any{"cpu_usage": 250.0, "ram_usage": -10.0},
		"events":  []any{},
	}
}

func TestTelemetryRequiresAgentKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/telemetry", telemetryBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/telemetry", telemetryBody(),
		map[string]string{middleware.AgentHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A rejected payload changes nothing.
	list, err := env.repo.ListMachinesWithLatest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTelemetryAcceptsAndClamps(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/telemetry", telemetryBody(), agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "M1", resp["machine_id"])

	samples, err := env.repo.RecentMetrics(context.Background(), "M1", 1)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 100.0, samples[0].CPUPct)
	assert.Equal(t, 0.0, samples[0].RAMPct)
}

func TestTelemetryMissingID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/telemetry",
		map[string]any{"metrics": map[string]any{"cpu_usage": 50.0}}, agentHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Identity outside the machine section does not count.
	rec = env.do(t, http.MethodPost, "/api/telemetry",
		map[string]any{"id": "M1", "cpu_usage": 50.0}, agentHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetupIsOneTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodGet, "/api/auth/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.AuthStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.SetupRequired)

	setupToken, err := env.auth.EnsureSetupToken(ctx)
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/auth/setup", models.SetupRequest{
		Username: "ops", Password: "long-enough", SetupToken: "bogus",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/setup", models.SetupRequest{
		Username: "ops", Password: "long-enough", SetupToken: setupToken,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Any further attempt refuses permanently.
	rec = env.do(t, http.MethodPost, "/api/auth/setup", models.SetupRequest{
		Username: "other", Password: "long-enough", SetupToken: setupToken,
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/auth/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.SetupRequired)
}

func TestAuthMe(t *testing.T) {
	env := newTestEnv(t)
	token := env.operatorToken(t)

	rec := env.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)

	var user models.AdminUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "ops", user.Username)
}

func TestMachinesEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.operatorToken(t)

	rec := env.do(t, http.MethodPost, "/api/telemetry", telemetryBody(), agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/machines", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.MachineWithSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "host-a", list[0].Hostname)
	require.NotNil(t, list[0].Latest)

	rec = env.do(t, http.MethodGet, "/api/machines/M1", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail models.MachineDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Len(t, detail.Metrics, 1)

	rec = env.do(t, http.MethodGet, "/api/machines/M1/history?limit=5", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/machines/ghost", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfileUpdate(t *testing.T) {
	env := newTestEnv(t)
	token := env.operatorToken(t)

	rec := env.do(t, http.MethodPost, "/api/telemetry", telemetryBody(), agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/machines/M1/profile", models.ProfileUpdateRequest{
		Profile: &models.MachineProfile{Nickname: "build box"},
	}, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)

	var machine models.Machine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &machine))
	assert.Equal(t, "build box", machine.Profile.Nickname)

	// Unknown machine is a 404, not an implicit create.
	rec = env.do(t, http.MethodPut, "/api/machines/ghost/profile", models.ProfileUpdateRequest{
		Profile: &models.MachineProfile{Nickname: "x"},
	}, bearer(token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMachineRequiresAdminRole(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.operatorToken(t)

	rec := env.do(t, http.MethodPost, "/api/telemetry", telemetryBody(), agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	viewerToken, err := env.tokens.Generate("U2", "viewer", "viewer")
	require.NoError(t, err)

	rec = env.do(t, http.MethodDelete, "/api/machines/M1", nil, bearer(viewerToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/machines/M1", nil, bearer(adminToken))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/machines/M1", nil, bearer(adminToken))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicyEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.operatorToken(t)
	threshold := 85.0

	rec := env.do(t, http.MethodPost, "/api/alerts/policies", models.PolicyRequest{
		Name: "High CPU", Metric: "cpu", Operator: ">", Threshold: &threshold,
		SustainMinutes: 5, Priority: models.PriorityHigh,
	}, bearer(token))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var policy models.AlertPolicy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	require.NotEmpty(t, policy.ID)

	rec = env.do(t, http.MethodPost, "/api/alerts/policies", models.PolicyRequest{
		Name: "Bad", Metric: "nope", Operator: ">", Threshold: &threshold,
	}, bearer(token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/alerts/policies", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	var policies []models.AlertPolicy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policies))
	assert.Len(t, policies, 1)

	newThreshold := 95.0
	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/alerts/policies/%s", policy.ID), models.PolicyRequest{
		Name: "High CPU", Metric: "cpu", Operator: ">", Threshold: &newThreshold,
	}, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/alerts/policies/%s", policy.ID), nil, bearer(token))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/alerts/policies/%s", policy.ID), nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActiveAlertsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.operatorToken(t)
	threshold := 90.0

	rec := env.do(t, http.MethodPost, "/api/alerts/policies", models.PolicyRequest{
		Name: "High CPU", Metric: "cpu", Operator: ">", Threshold: &threshold,
		SustainMinutes: 0, Priority: models.PriorityHigh,
	}, bearer(token))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/alerts/active", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	// A breaching sample under a zero-sustain policy opens immediately.
	rec = env.do(t, http.MethodPost, "/api/telemetry", map[string]any{
		"machine": map[string]any{"id": "M1", "hostname": "host-a"},
		"metrics": map[string]any{"cpu_usage": 99.0},
	}, agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/alerts/active", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []models.ActiveAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "High CPU", alerts[0].PolicyName)
	assert.Equal(t, "host-a", alerts[0].Hostname)
}

func TestAgentLogAndDeregister(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/telemetry", telemetryBody(), agentHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/logs", models.AgentLogRequest{
		MachineID: "M1", Level: "error", Message: "collector crashed",
	}, agentHeaders())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/deregister", models.DeregisterRequest{
		MachineID: "M1",
	}, agentHeaders())
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := env.repo.GetMachine(context.Background(), "M1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
