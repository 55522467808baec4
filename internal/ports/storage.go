package ports

import (
	"context"

	"github.com/secwatch/account-security/internal/domain"
)

// EventStore is the append-only, per-user event log
type EventStore interface {
	AppendEvent(ctx context.Context, event *domain.Event) error

	// CountEvents counts a user's events matching filter (type allow- or
	// deny-list, created_at >= Since)
	CountEvents(ctx context.Context, filter domain.EventFilter) (int, error)

	// ListEvents returns a user's events in insertion order (or its reverse).
	// limit <= 0 means no limit.
	ListEvents(ctx context.Context, userID int64, order domain.SortOrder, limit int) ([]domain.Event, error)
}

// RiskStore persists per-user cumulative risk scores
type RiskStore interface {
	// IncrementRiskScore atomically adds delta, creating the row at 0 if absent,
	// and returns the new score
	IncrementRiskScore(ctx context.Context, userID int64, delta int) (int, error)

	// GetRiskScore returns 0 for users that never scored
	GetRiskScore(ctx context.Context, userID int64) (int, error)
}

// AlertStore persists alerts. Alerts are never updated.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *domain.Alert) error
	LatestAlert(ctx context.Context, userID int64) (*domain.Alert, error)
	ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
	ListUserAlerts(ctx context.Context, userID int64, limit int) ([]domain.Alert, error)
}

// UserStore holds the accounts the admin console can inspect
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// Storage defines the contract for persisting and querying domain entities
type Storage interface {
	EventStore
	RiskStore
	AlertStore
	UserStore

	// ResetUserSecurity purges the user's events and alerts and sets the
	// score to zero, all or nothing
	ResetUserSecurity(ctx context.Context, userID int64) error

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
