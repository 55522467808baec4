package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/secwatch/account-security/internal/application"
	"github.com/secwatch/account-security/internal/domain"
	"github.com/secwatch/account-security/internal/metrics"
)

const (
	headerUserID     = "X-User-ID"
	headerAdminToken = "X-Admin-Token"
	headerHookToken  = "X-Auth-Hook-Token"

	maxBodyBytes = 1 << 20
)

// Server exposes the monitoring service over HTTP
type Server struct {
	service    *application.MonitoringService
	limiter    *UserLimiter // nil disables scan rate limiting
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	adminToken string
	hookToken  string
}

// Config holds the HTTP-layer settings
type Config struct {
	AdminToken string
	HookToken  string // shared with the auth layer for /api/auth/login-events
	Limiter    *UserLimiter
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer // served on /metrics when set
}

// NewServer creates the HTTP boundary around service
func NewServer(service *application.MonitoringService, logger *zap.Logger, cfg Config) *Server {
	return &Server{
		service:    service,
		limiter:    cfg.Limiter,
		metrics:    cfg.Metrics,
		gatherer:   cfg.Gatherer,
		logger:     logger.With(zap.String("component", "http")),
		adminToken: cfg.AdminToken,
		hookToken:  cfg.HookToken,
	}
}

// Routes returns the request router
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "POST /api/scan-url", s.handleScanURL)
	s.handle(mux, "POST /api/log-action", s.handleLogAction)
	s.handle(mux, "POST /api/auth/login-events", s.authHook(s.handleLoginEvent))

	s.handle(mux, "GET /api/admin/alerts", s.admin(s.handleListAlerts))
	s.handle(mux, "GET /api/admin/users", s.admin(s.handleListUsers))
	s.handle(mux, "GET /api/admin/user/{id}", s.admin(s.handleUserProfile))
	s.handle(mux, "GET /api/admin/user/{id}/timeline", s.admin(s.handleTimeline))
	s.handle(mux, "POST /api/admin/user/{id}/reset-security", s.admin(s.handleResetSecurity))

	s.handle(mux, "GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// handle registers h under pattern wrapped with request logging and metrics
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	route := pattern[strings.Index(pattern, " ")+1:]

	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r)

		elapsed := time.Since(start)
		s.metrics.ObserveRequest(route, strconv.Itoa(rec.status), elapsed.Seconds())
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type scanRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleScanURL(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.Header.Get(headerUserID), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	if s.limiter != nil && !s.limiter.Allow(userID) {
		s.metrics.ObserveRateLimited()
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many scan requests"})
		return
	}

	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing 'url' in request body"})
		return
	}

	result, err := s.service.ScanURL(r.Context(), userID, req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLogAction(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeBody(r, &payload); err != nil || payload == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action data"})
		return
	}

	userID, okUser := int64Field(payload, "user_id")
	actionType, okAction := payload["action_type"].(string)
	if !okUser || !okAction {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action data"})
		return
	}

	if _, err := s.service.LogAction(r.Context(), userID, actionType, payload); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User action logged"})
}

type loginEventRequest struct {
	Outcome  application.LoginOutcome `json:"outcome"`
	UserID   int64                    `json:"user_id"`
	Username string                   `json:"username"`
}

func (s *Server) handleLoginEvent(w http.ResponseWriter, r *http.Request) {
	var req loginEventRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	outcome, err := s.service.RecordLogin(r.Context(), req.Outcome, req.UserID, req.Username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	alerts, err := s.service.ListAlerts(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	profile, err := s.service.GetUserProfile(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	timeline, err := s.service.GetTimeline(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleResetSecurity(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if err := s.service.ResetUserSecurity(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User alerts/logs cleared and risk score reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.service.Ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// admin guards h with the shared admin token. An empty configured token
// disables the admin API entirely.
func (s *Server) admin(h http.HandlerFunc) http.HandlerFunc {
	return requireToken(headerAdminToken, s.adminToken, "admin API disabled", h)
}

// authHook guards the login outcome hook with the token shared with the auth
// layer. An empty configured token disables the hook.
func (s *Server) authHook(h http.HandlerFunc) http.HandlerFunc {
	return requireToken(headerHookToken, s.hookToken, "login event hook disabled", h)
}

func requireToken(header, want, disabledMsg string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if want == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": disabledMsg})
			return
		}
		token := r.Header.Get(header)
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Unauthorized"})
			return
		}
		h(w, r)
	}
}

// writeError maps service errors onto status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
	case errors.Is(err, domain.ErrModelUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Phishing model is not deployed"})
	case errors.Is(err, domain.ErrModelCorrupt):
		s.logger.Error("Phishing model artifact is corrupt", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Phishing model artifact is corrupt"})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
	}
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

// int64Field reads an integral JSON number (or numeric string) from payload
func int64Field(payload map[string]any, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
