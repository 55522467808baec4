package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/secwatch/account-security/internal/domain"
)

const (
	DetectionBehaviorBurst = "BEHAVIOR_BURST"

	DefaultBurstWindow     = time.Minute
	DefaultBurstMaxActions = 10
	DefaultBurstRiskDelta  = 20
)

// BehaviorBurstStrategy detects abnormal bursts of user actions
//
// Scripted sessions (scraping, automated account abuse) issue far more page
// accesses and API calls per minute than a human. Logins, URL scans and
// security alerts are bookkept by the service itself and never count.
type BehaviorBurstStrategy struct {
	Window     time.Duration
	MaxActions int // detection fires when the count strictly exceeds this
	RiskDelta  int
}

// NewBehaviorBurstStrategy creates a burst strategy with the default policy:
// more than 10 actions in the trailing minute
func NewBehaviorBurstStrategy() *BehaviorBurstStrategy {
	return &BehaviorBurstStrategy{
		Window:     DefaultBurstWindow,
		MaxActions: DefaultBurstMaxActions,
		RiskDelta:  DefaultBurstRiskDelta,
	}
}

// Name returns the strategy name
func (s *BehaviorBurstStrategy) Name() string {
	return "Behavior Burst"
}

// Triggers runs the strategy after each caller-supplied action
func (s *BehaviorBurstStrategy) Triggers(eventType domain.EventType) bool {
	return !eventType.IsSystem()
}

// Detect counts non-system events in the trailing window
func (s *BehaviorBurstStrategy) Detect(ctx context.Context, userID int64, env *DetectionContext) (*domain.Detection, error) {
	actions, err := env.Events.CountEvents(ctx, domain.EventFilter{
		UserID:       userID,
		Types:        domain.SystemEventTypes,
		ExcludeTypes: true,
		Since:        env.Now.Add(-s.Window),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count user actions: %w", err)
	}

	if actions <= s.MaxActions {
		return nil, nil
	}

	return &domain.Detection{
		Type:      DetectionBehaviorBurst,
		RiskDelta: s.RiskDelta,
		Count:     actions,
		Evidence:  fmt.Sprintf("Abnormal activity burst: %d actions in %s", actions, s.Window),
	}, nil
}
