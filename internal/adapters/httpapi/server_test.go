package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/secwatch/account-security/internal/adapters/storage"
	"github.com/secwatch/account-security/internal/application"
	"github.com/secwatch/account-security/internal/domain"
	"github.com/secwatch/account-security/internal/domain/classifier"
	"github.com/secwatch/account-security/internal/domain/detection"
	"github.com/secwatch/account-security/internal/domain/risk"
	"github.com/secwatch/account-security/internal/domain/urlscan"
	"github.com/secwatch/account-security/internal/metrics"
)

const (
	adminToken = "test-admin-token"
	hookToken  = "test-hook-token"
)

func keywordArtifact() *classifier.Artifact {
	return &classifier.Artifact{
		Model: &classifier.Forest{
			Type:      classifier.ModelTypeRandomForest,
			NFeatures: urlscan.NumFeatures,
			Trees: []classifier.Tree{{
				ChildrenLeft:  []int{1, -1, -1},
				ChildrenRight: []int{2, -1, -1},
				Feature:       []int{7, -2, -2},
				Threshold:     []float64{1.5, -2, -2},
				Value:         [][]float64{{10, 10}, {9, 1}, {1, 9}},
			}},
		},
		Threshold:   0.5,
		Shape:       classifier.ShapeStructured,
		Fingerprint: "test-model",
	}
}

type testEnv struct {
	handler http.Handler
	store   *storage.MemoryStore
	userID  int64
}

func newTestEnv(t *testing.T, clf *classifier.Classifier, limiter *UserLimiter) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	user := &domain.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, store.CreateUser(context.Background(), user))

	if clf == nil {
		clf = classifier.NewWithArtifact(keywordArtifact())
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	service := application.NewMonitoringService(
		store, clf, detection.NewDetector(store), risk.NewEngine(store, nil), zap.NewNop(),
		application.WithMetrics(m),
	)
	server := NewServer(service, zap.NewNop(), Config{
		AdminToken: adminToken,
		HookToken:  hookToken,
		Limiter:    limiter,
		Metrics:    m,
		Gatherer:   reg,
	})

	return &testEnv{handler: server.Routes(), store: store, userID: user.ID}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) asUser() map[string]string {
	return map[string]string{headerUserID: strconv.FormatInt(e.userID, 10)}
}

func asAdmin() map[string]string {
	return map[string]string{headerAdminToken: adminToken}
}

func asAuthLayer() map[string]string {
	return map[string]string{headerHookToken: hookToken}
}

func TestScanURL_Statuses(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		name       string
		body       any
		headers    map[string]string
		wantStatus int
	}{
		{"Phishing URL", scanRequest{URL: "paypa1-login.secure-update.com/verify?acct=1"}, env.asUser(), http.StatusOK},
		{"Missing user header", scanRequest{URL: "example.com"}, nil, http.StatusUnauthorized},
		{"Malformed user header", scanRequest{URL: "example.com"}, map[string]string{headerUserID: "abc"}, http.StatusUnauthorized},
		{"Missing url", map[string]string{}, env.asUser(), http.StatusBadRequest},
		{"Host without dot", scanRequest{URL: "http://localhost/"}, env.asUser(), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/scan-url", tt.body, tt.headers)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestScanURL_ResponseShape(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/api/scan-url", scanRequest{URL: "paypa1-login.secure-update.com/verify?acct=1&redirect=2"}, env.asUser())
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "PHISHING", body["prediction"])
	assert.InDelta(t, 0.9, body["confidence"], 1e-9)
	assert.InDelta(t, 0.9, body["phishing_probability"], 1e-9)
	assert.Equal(t, 0.5, body["phishing_threshold"])
	assert.Equal(t, "https://paypa1-login.secure-update.com/verify?acct=1&redirect=2", body["normalized_url"])
	assert.Len(t, body["features"], urlscan.NumFeatures)
}

func TestScanURL_ModelErrors(t *testing.T) {
	dir := t.TempDir()

	missing := newTestEnv(t, classifier.New(filepath.Join(dir, "absent.json")), nil)
	rec := missing.do(t, http.MethodPost, "/api/scan-url", scanRequest{URL: "example.com"}, missing.asUser())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	brokenPath := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(brokenPath, []byte("not a model"), 0o600))
	broken := newTestEnv(t, classifier.New(brokenPath), nil)
	rec = broken.do(t, http.MethodPost, "/api/scan-url", scanRequest{URL: "example.com"}, broken.asUser())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "corrupt")
}

func TestScanURL_RateLimited(t *testing.T) {
	env := newTestEnv(t, nil, NewUserLimiter(0.001, 2, time.Minute))

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/scan-url", scanRequest{URL: "example.com"}, env.asUser())
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/scan-url", scanRequest{URL: "example.com"}, env.asUser())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestLogAction(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"Valid action", map[string]any{"user_id": env.userID, "action_type": "PAGE_ACCESS", "resource": "/reports"}, http.StatusCreated},
		{"Missing user_id", map[string]any{"action_type": "PAGE_ACCESS"}, http.StatusBadRequest},
		{"Missing action_type", map[string]any{"user_id": env.userID}, http.StatusBadRequest},
		{"Fractional user_id", map[string]any{"user_id": 1.5, "action_type": "PAGE_ACCESS"}, http.StatusBadRequest},
		{"Reserved action_type", map[string]any{"user_id": env.userID, "action_type": "SECURITY_ALERT"}, http.StatusBadRequest},
		{"Unknown user", map[string]any{"user_id": 999, "action_type": "PAGE_ACCESS"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/log-action", tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	events, err := env.store.ListEvents(context.Background(), env.userID, domain.Ascending, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "/reports", events[0].Data["resource"])
}

func TestLoginEvents_BruteForceRaisesAlerts(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	body := loginEventRequest{Outcome: application.LoginWrongPassword, UserID: env.userID}

	var outcome application.RiskOutcome
	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/api/auth/login-events", body, asAuthLayer())
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	}
	assert.Equal(t, 60, outcome.Score)

	rec := env.do(t, http.MethodGet, "/api/admin/alerts", nil, asAdmin())
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []application.AlertView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 2)
	assert.Equal(t, risk.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, 60, alerts[0].RiskScore)

	rec = env.do(t, http.MethodPost, "/api/auth/login-events",
		loginEventRequest{Outcome: application.LoginWrongPassword, UserID: 9999}, asAuthLayer())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login-events",
		loginEventRequest{Outcome: application.LoginUserNotFound, Username: "mallory"}, asAuthLayer())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginEvents_RequiresHookToken(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	body := loginEventRequest{Outcome: application.LoginWrongPassword, UserID: env.userID}

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"No token", nil},
		{"Wrong token", map[string]string{headerHookToken: "guess"}},
		{"Admin token is not accepted", asAdmin()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth/login-events", body, tt.headers)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	score, err := env.store.GetRiskScore(context.Background(), env.userID)
	require.NoError(t, err)
	assert.Zero(t, score)
	events, err := env.store.ListEvents(context.Background(), env.userID, domain.Ascending, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLoginEvents_DisabledWithoutHookToken(t *testing.T) {
	store := storage.NewMemoryStore()
	service := application.NewMonitoringService(
		store, classifier.NewWithArtifact(keywordArtifact()), detection.NewDetector(store),
		risk.NewEngine(store, nil), zap.NewNop(),
	)
	handler := NewServer(service, zap.NewNop(), Config{AdminToken: adminToken}).Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login-events",
		bytes.NewBufferString(`{"outcome":"wrong_password","user_id":1}`))
	req.Header.Set(headerHookToken, "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")
}

func TestAdmin_RequiresToken(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/admin/alerts"},
		{http.MethodGet, "/api/admin/users"},
		{http.MethodGet, "/api/admin/user/1"},
		{http.MethodGet, "/api/admin/user/1/timeline"},
		{http.MethodPost, "/api/admin/user/1/reset-security"},
	}

	for _, p := range paths {
		t.Run(p.path, func(t *testing.T) {
			rec := env.do(t, p.method, p.path, nil, nil)
			assert.Equal(t, http.StatusForbidden, rec.Code)

			rec = env.do(t, p.method, p.path, nil, map[string]string{headerAdminToken: "wrong"})
			assert.Equal(t, http.StatusForbidden, rec.Code)

			rec = env.do(t, p.method, p.path, nil, asAdmin())
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}
}

func TestAdmin_UserEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	userPath := "/api/admin/user/" + strconv.FormatInt(env.userID, 10)

	rec := env.do(t, http.MethodPost, "/api/log-action",
		map[string]any{"user_id": env.userID, "action_type": "PAGE_ACCESS", "resource": "/billing"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, userPath, nil, asAdmin())
	require.Equal(t, http.StatusOK, rec.Code)
	var profile application.UserProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "alice", profile.User.Username)
	require.Len(t, profile.RecentEvents, 1)
	assert.Equal(t, "/billing", profile.RecentEvents[0].Resource)

	rec = env.do(t, http.MethodGet, userPath+"/timeline", nil, asAdmin())
	require.Equal(t, http.StatusOK, rec.Code)
	var timeline []application.EventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &timeline))
	assert.Len(t, timeline, 1)

	rec = env.do(t, http.MethodPost, userPath+"/reset-security", nil, asAdmin())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, userPath+"/timeline", nil, asAdmin())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &timeline))
	assert.Empty(t, timeline)

	rec = env.do(t, http.MethodGet, "/api/admin/user/4040", nil, asAdmin())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/admin/user/4040/reset-security", nil, asAdmin())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/admin/user/abc", nil, asAdmin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(t, http.MethodPost, "/api/scan-url", scanRequest{URL: "example.com"}, env.asUser())

	rec = env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `account_security_scan_total{outcome="SAFE"} 1`)
	assert.Contains(t, rec.Body.String(), "account_security_http_requests_total")
}
