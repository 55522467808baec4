package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/secwatch/account-security/internal/domain"
)

const lockShardCount = 64

// Store is the persistence the engine needs. IncrementRiskScore must be an
// atomic add that creates the row at zero when absent and returns the new score.
type Store interface {
	IncrementRiskScore(ctx context.Context, userID int64, delta int) (int, error)
	LatestAlert(ctx context.Context, userID int64) (*domain.Alert, error)
	CreateAlert(ctx context.Context, alert *domain.Alert) error
}

// Update is the outcome of one Apply call
type Update struct {
	UserID int64
	Delta  int
	Score  int           // score after the delta
	Alert  *domain.Alert // nil when the evaluation created nothing
}

// Engine accumulates per-user risk scores and evaluates alerts after each change
//
// Updates for the same user are serialized in-process so the alert evaluation
// always sees the score it just wrote and the latest alert it is deduplicating
// against. The store-level increment stays atomic on its own for multi-instance
// deployments.
type Engine struct {
	store  Store
	policy AlertPolicy
	locks  [lockShardCount]sync.Mutex
	now    func() time.Time
}

// NewEngine creates an engine. A nil policy falls back to the default bands.
func NewEngine(store Store, policy AlertPolicy) *Engine {
	if policy == nil {
		policy, _ = NewBandPolicy(DefaultBands())
	}
	return &Engine{
		store:  store,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the alert timestamp source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) lockFor(userID int64) *sync.Mutex {
	return &e.locks[uint64(userID)%lockShardCount]
}

// Apply adds delta to the user's score and then evaluates alerting against the
// new score. If the score was written but the alert step failed, the returned
// Update still carries the new score alongside the error.
func (e *Engine) Apply(ctx context.Context, userID int64, delta int) (*Update, error) {
	if delta < 0 {
		return nil, fmt.Errorf("user %d delta %d: %w", userID, delta, domain.ErrNegativeDelta)
	}

	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	score, err := e.store.IncrementRiskScore(ctx, userID, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to update risk score: %w", err)
	}

	update := &Update{UserID: userID, Delta: delta, Score: score}

	alert, err := e.evaluate(ctx, userID, score)
	if err != nil {
		return update, fmt.Errorf("failed to evaluate alert: %w", err)
	}
	update.Alert = alert

	return update, nil
}

// Reset runs purge while holding the user's update lock, so an Apply in
// flight either finishes before the purge or starts from the purged state
func (e *Engine) Reset(ctx context.Context, userID int64, purge func(ctx context.Context, userID int64) error) error {
	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	return purge(ctx, userID)
}

// evaluate creates at most one alert, and only when the policy's severity for
// score differs from the user's most recent alert
func (e *Engine) evaluate(ctx context.Context, userID int64, score int) (*domain.Alert, error) {
	decision, ok := e.policy.Evaluate(userID, score)
	if !ok {
		return nil, nil
	}

	latest, err := e.store.LatestAlert(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest alert: %w", err)
	}
	if latest != nil && latest.Severity == decision.Severity {
		return nil, nil
	}

	alert := &domain.Alert{
		ID:        uuid.New(),
		UserID:    userID,
		Severity:  decision.Severity,
		Message:   decision.Message,
		Score:     score,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	return alert, nil
}
