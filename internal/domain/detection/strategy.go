package detection

import (
	"context"
	"time"

	"github.com/secwatch/account-security/internal/domain"
)

// DetectionStrategy defines the interface that all anomaly detection strategies must implement
//
// Strategies are stateless predicates over the persisted event history: they
// only issue count queries, so calling them repeatedly against the same
// history yields the same answer.
type DetectionStrategy interface {
	// Detect returns a Detection if the user's recent history is anomalous, nil otherwise
	Detect(ctx context.Context, userID int64, env *DetectionContext) (*domain.Detection, error)

	// Triggers reports whether appending an event of this type should run the strategy
	Triggers(eventType domain.EventType) bool

	// Name returns the human-readable name of this detection strategy
	Name() string
}

// EventCounter is the slice of the event store the strategies need
type EventCounter interface {
	CountEvents(ctx context.Context, filter domain.EventFilter) (int, error)
}

// DetectionContext provides shared context needed by the detection strategies
type DetectionContext struct {
	Events EventCounter

	// Now anchors every sliding window of one analysis pass
	Now time.Time
}
