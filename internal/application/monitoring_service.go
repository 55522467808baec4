package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/secwatch/account-security/internal/domain"
	"github.com/secwatch/account-security/internal/domain/classifier"
	"github.com/secwatch/account-security/internal/domain/detection"
	"github.com/secwatch/account-security/internal/domain/risk"
	"github.com/secwatch/account-security/internal/domain/urlscan"
	"github.com/secwatch/account-security/internal/metrics"
	"github.com/secwatch/account-security/internal/ports"
)

const (
	DefaultWrongPasswordDelta = 10

	profileAlertLimit = 5
	profileEventLimit = 10
)

// Risk delta reasons, used as metric labels and log fields
const (
	reasonWrongPassword = "wrong_password"
)

// LoginOutcome is what the auth layer reports after checking credentials
type LoginOutcome string

const (
	LoginUserNotFound  LoginOutcome = "user_not_found"
	LoginWrongPassword LoginOutcome = "wrong_password"
	LoginSuccess       LoginOutcome = "success"
)

// RiskOutcome summarizes the scoring side effects of one inbound event
type RiskOutcome struct {
	Score      int                `json:"risk_score"`
	Detections []domain.Detection `json:"detections"`
	Alerts     []domain.Alert     `json:"alerts"`
}

// Option configures a MonitoringService
type Option func(*MonitoringService)

// WithClock overrides the time source for event timestamps
func WithClock(now func() time.Time) Option {
	return func(s *MonitoringService) { s.now = now }
}

// WithWrongPasswordDelta overrides the score increment for a wrong password
func WithWrongPasswordDelta(delta int) Option {
	return func(s *MonitoringService) { s.wrongPasswordDelta = delta }
}

// WithScanCache enables scan result caching
func WithScanCache(cache ports.ScanCache) Option {
	return func(s *MonitoringService) { s.cache = cache }
}

// WithMetrics records Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *MonitoringService) { s.metrics = m }
}

// MonitoringService orchestrates URL scanning, event logging, anomaly
// detection and risk scoring
//
// Every inbound login or action is appended to the event log first and only
// then fed to detection and scoring, so a failure in a later step never loses
// the triggering event.
type MonitoringService struct {
	store      ports.Storage
	classifier *classifier.Classifier
	detector   *detection.Detector
	engine     *risk.Engine
	cache      ports.ScanCache
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	wrongPasswordDelta int
}

// NewMonitoringService creates a new monitoring service with dependency injection
func NewMonitoringService(
	store ports.Storage,
	classifier *classifier.Classifier,
	detector *detection.Detector,
	engine *risk.Engine,
	logger *zap.Logger,
	opts ...Option,
) *MonitoringService {
	s := &MonitoringService{
		store:              store,
		classifier:         classifier,
		detector:           detector,
		engine:             engine,
		logger:             logger.With(zap.String("component", "monitoring")),
		now:                func() time.Time { return time.Now().UTC() },
		wrongPasswordDelta: DefaultWrongPasswordDelta,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanURL classifies rawURL for userID and records the scan in the user's
// event log. The URL is validated before the model is touched, so malformed
// input is rejected even when no model is deployed.
func (s *MonitoringService) ScanURL(ctx context.Context, userID int64, rawURL string) (*domain.ScanResult, error) {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		s.metrics.ObserveScan("invalid_url", 0, false)
		return nil, fmt.Errorf("%w: url is required", domain.ErrInvalidURL)
	}

	normalized, err := urlscan.Canonicalize(url)
	if err != nil {
		s.metrics.ObserveScan("invalid_url", 0, false)
		return nil, err
	}

	result, err := s.classify(ctx, normalized)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrModelUnavailable):
			s.metrics.ObserveScan("model_unavailable", 0, false)
		case errors.Is(err, domain.ErrModelCorrupt):
			s.metrics.ObserveScan("model_corrupt", 0, false)
		default:
			s.metrics.ObserveScan("error", 0, false)
		}
		return nil, err
	}
	s.metrics.ObserveScan(string(result.Prediction), result.PhishingProbability, true)

	if _, err := s.appendEvent(ctx, userID, domain.EventURLScan, map[string]any{
		"url":        url,
		"prediction": result.Prediction,
		"confidence": result.Confidence,
		"features":   result.Features,
	}); err != nil {
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	if result.Prediction == domain.VerdictPhishing {
		s.logger.Warn("Phishing URL scanned",
			zap.Int64("user_id", userID),
			zap.String("url", result.NormalizedURL),
			zap.String("registered_domain", result.RegisteredDomain),
			zap.Float64("probability", result.PhishingProbability),
			zap.Float64("threshold", result.PhishingThreshold),
		)
	}

	return result, nil
}

// classify returns the verdict bundle for a normalized URL, from cache when possible
func (s *MonitoringService) classify(ctx context.Context, normalized string) (*domain.ScanResult, error) {
	artifact, err := s.classifier.Artifact()
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, artifact.Fingerprint, normalized)
		switch {
		case err != nil:
			s.metrics.ObserveCache("error")
			s.logger.Warn("Scan cache read failed", zap.Error(err))
		case cached != nil:
			s.metrics.ObserveCache("hit")
			return cached, nil
		default:
			s.metrics.ObserveCache("miss")
		}
	}

	features := urlscan.Extract(normalized)
	prediction, err := s.classifier.Classify(features)
	if err != nil {
		return nil, err
	}

	result := &domain.ScanResult{
		Prediction:          prediction.Verdict,
		Confidence:          prediction.Confidence,
		PhishingProbability: prediction.Probability,
		PhishingThreshold:   prediction.Threshold,
		NormalizedURL:       normalized,
		RegisteredDomain:    urlscan.RegisteredDomain(urlscan.Host(normalized)),
		Features:            features.Map(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, artifact.Fingerprint, normalized, result); err != nil {
			s.logger.Warn("Scan cache write failed", zap.Error(err))
		}
	}

	return result, nil
}

// LogAction records a caller-supplied action and checks the user for an
// activity burst. payload is stored verbatim as the event data.
func (s *MonitoringService) LogAction(ctx context.Context, userID int64, actionType string, payload map[string]any) (*RiskOutcome, error) {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return nil, fmt.Errorf("%w: action_type is required", domain.ErrInvalidInput)
	}
	if domain.EventType(actionType).IsSystem() {
		return nil, fmt.Errorf("%w: action_type %q is reserved", domain.ErrInvalidInput, actionType)
	}
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	event, err := s.appendEvent(ctx, userID, domain.EventType(actionType), payload)
	if err != nil {
		return nil, err
	}

	return s.analyze(ctx, event)
}

// RecordLogin is the login outcome hook called by the auth layer.
// For LoginUserNotFound only username is used and the attempt is recorded
// under UnknownUserID without scoring. The other outcomes require an
// existing userID.
func (s *MonitoringService) RecordLogin(ctx context.Context, outcome LoginOutcome, userID int64, username string) (*RiskOutcome, error) {
	switch outcome {
	case LoginUserNotFound:
		return s.RecordUnknownUserLogin(ctx, username)
	case LoginWrongPassword:
		return s.RecordFailedLogin(ctx, userID)
	case LoginSuccess:
		return s.RecordSuccessfulLogin(ctx, userID)
	default:
		return nil, fmt.Errorf("%w: unknown login outcome %q", domain.ErrInvalidInput, outcome)
	}
}

// RecordUnknownUserLogin logs a failed login against a username that doesn't exist
func (s *MonitoringService) RecordUnknownUserLogin(ctx context.Context, username string) (*RiskOutcome, error) {
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}

	if _, err := s.appendEvent(ctx, domain.UnknownUserID, domain.EventFailedLogin, map[string]any{
		"username": username,
		"reason":   string(LoginUserNotFound),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Login attempt for unknown user", zap.String("username", username))
	return &RiskOutcome{Detections: []domain.Detection{}, Alerts: []domain.Alert{}}, nil
}

// RecordFailedLogin handles a wrong password: the FAILED_LOGIN event is
// appended, the score raised, and brute-force detection run. A detection is
// logged as a SECURITY_ALERT event before its delta is applied.
func (s *MonitoringService) RecordFailedLogin(ctx context.Context, userID int64) (*RiskOutcome, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	event, err := s.appendEvent(ctx, userID, domain.EventFailedLogin, map[string]any{
		"reason": string(LoginWrongPassword),
	})
	if err != nil {
		return nil, err
	}

	outcome := &RiskOutcome{Detections: []domain.Detection{}, Alerts: []domain.Alert{}}
	if err := s.applyRisk(ctx, userID, s.wrongPasswordDelta, reasonWrongPassword, outcome); err != nil {
		return outcome, err
	}

	detected, err := s.analyze(ctx, event)
	if detected != nil {
		outcome.merge(detected)
	}
	return outcome, err
}

// RecordSuccessfulLogin logs a successful login
func (s *MonitoringService) RecordSuccessfulLogin(ctx context.Context, userID int64) (*RiskOutcome, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	if _, err := s.appendEvent(ctx, userID, domain.EventSuccessfulLogin, map[string]any{}); err != nil {
		return nil, err
	}

	score, err := s.store.GetRiskScore(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch risk score: %w", err)
	}
	return &RiskOutcome{Score: score, Detections: []domain.Detection{}, Alerts: []domain.Alert{}}, nil
}

// analyze runs the strategies triggered by event and applies their deltas
func (s *MonitoringService) analyze(ctx context.Context, event *domain.Event) (*RiskOutcome, error) {
	outcome := &RiskOutcome{Detections: []domain.Detection{}, Alerts: []domain.Alert{}}

	detections, err := s.detector.AnalyzeEvent(ctx, *event)
	if err != nil {
		return outcome, fmt.Errorf("failed to run anomaly detection: %w", err)
	}

	for _, det := range detections {
		s.metrics.ObserveDetection(det.Type)
		outcome.Detections = append(outcome.Detections, det)

		s.logger.Warn("Anomaly detected",
			zap.Int64("user_id", event.UserID),
			zap.String("detection", det.Type),
			zap.Int("count", det.Count),
			zap.String("evidence", det.Evidence),
		)

		if det.SecurityEvent {
			if _, err := s.appendEvent(ctx, event.UserID, domain.EventSecurityAlert, map[string]any{
				"alert":     det.Evidence,
				"detection": det.Type,
				"count":     det.Count,
			}); err != nil {
				return outcome, err
			}
		}

		if err := s.applyRisk(ctx, event.UserID, det.RiskDelta, strings.ToLower(det.Type), outcome); err != nil {
			return outcome, err
		}
	}

	if len(detections) == 0 {
		score, err := s.store.GetRiskScore(ctx, event.UserID)
		if err != nil {
			return outcome, fmt.Errorf("failed to fetch risk score: %w", err)
		}
		outcome.Score = score
	}

	return outcome, nil
}

// applyRisk adds delta and records the resulting score and alert in outcome
func (s *MonitoringService) applyRisk(ctx context.Context, userID int64, delta int, reason string, outcome *RiskOutcome) error {
	update, err := s.engine.Apply(ctx, userID, delta)
	if update != nil {
		outcome.Score = update.Score
		s.metrics.ObserveRiskDelta(reason, delta)
	}
	if err != nil {
		s.logger.Error("Risk update failed",
			zap.Int64("user_id", userID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return err
	}

	if update.Alert != nil {
		s.metrics.ObserveAlert(update.Alert.Severity)
		outcome.Alerts = append(outcome.Alerts, *update.Alert)
		s.logger.Warn("Security alert raised",
			zap.Int64("user_id", userID),
			zap.String("severity", update.Alert.Severity),
			zap.Int("score", update.Score),
			zap.String("reason", reason),
		)
	}
	return nil
}

func (o *RiskOutcome) merge(other *RiskOutcome) {
	o.Detections = append(o.Detections, other.Detections...)
	o.Alerts = append(o.Alerts, other.Alerts...)
	if other.Score > o.Score {
		o.Score = other.Score
	}
}

// appendEvent stamps and persists an event. Every payload carries the UTC time.
func (s *MonitoringService) appendEvent(ctx context.Context, userID int64, eventType domain.EventType, data map[string]any) (*domain.Event, error) {
	now := s.now()

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if _, ok := payload["time"]; !ok {
		payload["time"] = now.Format(time.RFC3339Nano)
	}

	event := &domain.Event{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      eventType,
		Data:      payload,
		CreatedAt: now,
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.logger.Error("Failed to append event",
			zap.Int64("user_id", userID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	kind := "action"
	if eventType.IsSystem() {
		kind = string(eventType)
	}
	s.metrics.ObserveEvent(kind)

	return event, nil
}

func (s *MonitoringService) requireUser(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrUserNotFound)
	}
	return user, nil
}

// Ready reports whether the store is reachable
func (s *MonitoringService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
