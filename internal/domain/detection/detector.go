package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/secwatch/account-security/internal/domain"
)

// Detector performs anomaly detection on a user's event history using pluggable strategies
//
// The Detector coordinates multiple DetectionStrategy implementations, each
// responsible for one kind of abnormal behavior (brute force, activity
// bursts). After an event is appended, only the strategies that declare
// interest in its type are run.
type Detector struct {
	strategies []DetectionStrategy
	events     EventCounter
	now        func() time.Time
}

// NewDetector creates a detector over the given event history
//
// With no strategies supplied, the standard brute-force and behavior-burst
// strategies are used.
func NewDetector(events EventCounter, strategies ...DetectionStrategy) *Detector {
	if len(strategies) == 0 {
		strategies = []DetectionStrategy{
			NewBruteForceStrategy(),
			NewBehaviorBurstStrategy(),
		}
	}

	return &Detector{
		strategies: strategies,
		events:     events,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source anchoring the sliding windows
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Strategies returns the configured strategies
func (d *Detector) Strategies() []DetectionStrategy {
	return d.strategies
}

// AnalyzeEvent runs every strategy triggered by the just-appended event
func (d *Detector) AnalyzeEvent(ctx context.Context, event domain.Event) ([]domain.Detection, error) {
	env := &DetectionContext{Events: d.events, Now: d.now()}
	detections := make([]domain.Detection, 0)

	for _, strategy := range d.strategies {
		if !strategy.Triggers(event.Type) {
			continue
		}
		det, err := strategy.Detect(ctx, event.UserID, env)
		if err != nil {
			return detections, fmt.Errorf("%s: %w", strategy.Name(), err)
		}
		if det != nil {
			detections = append(detections, *det)
		}
	}

	return detections, nil
}
