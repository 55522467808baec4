package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/secwatch/account-security/internal/domain"
)

const (
	DetectionBruteForce = "BRUTE_FORCE"

	DefaultBruteForceWindow    = 5 * time.Minute
	DefaultBruteForceThreshold = 3
	DefaultBruteForceRiskDelta = 30
)

// BruteForceStrategy detects repeated failed logins against one account
//
// Attack pattern: password guessing produces a burst of FAILED_LOGIN events
// for the same user within a few minutes
type BruteForceStrategy struct {
	Window    time.Duration
	Threshold int // failures in the window that trigger detection (inclusive)
	RiskDelta int
}

// NewBruteForceStrategy creates a brute-force strategy with the default policy:
// 3 or more failed logins in the trailing 5 minutes
func NewBruteForceStrategy() *BruteForceStrategy {
	return &BruteForceStrategy{
		Window:    DefaultBruteForceWindow,
		Threshold: DefaultBruteForceThreshold,
		RiskDelta: DefaultBruteForceRiskDelta,
	}
}

// Name returns the strategy name
func (s *BruteForceStrategy) Name() string {
	return "Brute-force Login"
}

// Triggers runs the strategy after each failed login
func (s *BruteForceStrategy) Triggers(eventType domain.EventType) bool {
	return eventType == domain.EventFailedLogin
}

// Detect counts FAILED_LOGIN events in the trailing window
func (s *BruteForceStrategy) Detect(ctx context.Context, userID int64, env *DetectionContext) (*domain.Detection, error) {
	failures, err := env.Events.CountEvents(ctx, domain.EventFilter{
		UserID: userID,
		Types:  []domain.EventType{domain.EventFailedLogin},
		Since:  env.Now.Add(-s.Window),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count failed logins: %w", err)
	}

	if failures < s.Threshold {
		return nil, nil
	}

	return &domain.Detection{
		Type:          DetectionBruteForce,
		RiskDelta:     s.RiskDelta,
		Count:         failures,
		Evidence:      fmt.Sprintf("Possible brute-force attack detected: %d failed logins in %s", failures, s.Window),
		SecurityEvent: true,
	}, nil
}
