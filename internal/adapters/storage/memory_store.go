package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/secwatch/account-security/internal/domain"
)

type memoryEvent struct {
	seq   int64
	event domain.Event
}

// MemoryStore implements ports.Storage in process memory. It backs local runs
// without PostgreSQL and the service tests.
type MemoryStore struct {
	mu         sync.RWMutex
	nextUserID int64
	nextSeq    int64
	users      map[int64]*domain.User
	events     map[int64][]memoryEvent
	scores     map[int64]domain.RiskScore
	alerts     []domain.Alert
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]*domain.User),
		events: make(map[int64][]memoryEvent),
		scores: make(map[int64]domain.RiskScore),
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// CreateUser inserts a user, or updates email and admin flag when the username exists
func (s *MemoryStore) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			existing.Email = user.Email
			existing.IsAdmin = user.IsAdmin
			user.ID = existing.ID
			user.CreatedAt = existing.CreatedAt
			return nil
		}
	}

	s.nextUserID++
	user.ID = s.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	stored := *user
	s.users[user.ID] = &stored
	return nil
}

// GetUser returns nil when the user doesn't exist
func (s *MemoryStore) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	out := *user
	return &out, nil
}

// GetUserByUsername returns nil when the user doesn't exist
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Username == username {
			out := *user
			return &out, nil
		}
	}
	return nil, nil
}

// ListUsers returns every user ordered by ID
func (s *MemoryStore) ListUsers(context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// AppendEvent records an event at the end of the user's log. created_at is
// raised to the previous event's timestamp when the caller's clock lags, and
// the stored value is written back to event.
func (s *MemoryStore) AppendEvent(_ context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log := s.events[event.UserID]; len(log) > 0 {
		if last := log[len(log)-1].event.CreatedAt; event.CreatedAt.Before(last) {
			event.CreatedAt = last
		}
	}

	s.nextSeq++
	s.events[event.UserID] = append(s.events[event.UserID], memoryEvent{seq: s.nextSeq, event: *event})
	return nil
}

// CountEvents counts the user's events passing filter
func (s *MemoryStore) CountEvents(_ context.Context, filter domain.EventFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.events[filter.UserID] {
		if filter.Matches(e.event) {
			count++
		}
	}
	return count, nil
}

// ListEvents returns events in insertion order or its reverse
func (s *MemoryStore) ListEvents(_ context.Context, userID int64, order domain.SortOrder, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	entries := make([]memoryEvent, len(s.events[userID]))
	copy(entries, s.events[userID])
	s.mu.RUnlock()

	if order == domain.Descending {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	events := make([]domain.Event, len(entries))
	for i, e := range entries {
		events[i] = e.event
	}
	return events, nil
}

// IncrementRiskScore adds delta under the store lock
func (s *MemoryStore) IncrementRiskScore(_ context.Context, userID int64, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.scores[userID]
	rs.UserID = userID
	rs.Score += delta
	rs.UpdatedAt = time.Now().UTC()
	s.scores[userID] = rs
	return rs.Score, nil
}

// GetRiskScore returns 0 for users that never scored
func (s *MemoryStore) GetRiskScore(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[userID].Score, nil
}

// CreateAlert appends an alert
func (s *MemoryStore) CreateAlert(_ context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, *alert)
	return nil
}

// LatestAlert returns the user's most recently created alert, nil if none
func (s *MemoryStore) LatestAlert(_ context.Context, userID int64) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].UserID == userID {
			alert := s.alerts[i]
			return &alert, nil
		}
	}
	return nil, nil
}

// ListAlerts returns alerts newest first
func (s *MemoryStore) ListAlerts(_ context.Context, limit int) ([]domain.Alert, error) {
	return s.newestAlerts(func(domain.Alert) bool { return true }, limit), nil
}

// ListUserAlerts returns a user's alerts newest first
func (s *MemoryStore) ListUserAlerts(_ context.Context, userID int64, limit int) ([]domain.Alert, error) {
	return s.newestAlerts(func(a domain.Alert) bool { return a.UserID == userID }, limit), nil
}

func (s *MemoryStore) newestAlerts(keep func(domain.Alert) bool, limit int) []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]domain.Alert, 0)
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if limit > 0 && len(alerts) == limit {
			break
		}
		if keep(s.alerts[i]) {
			alerts = append(alerts, s.alerts[i])
		}
	}
	return alerts
}

// ResetUserSecurity purges events and alerts and zeroes the score under one lock
func (s *MemoryStore) ResetUserSecurity(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, userID)

	kept := s.alerts[:0]
	for _, a := range s.alerts {
		if a.UserID != userID {
			kept = append(kept, a)
		}
	}
	s.alerts = kept

	s.scores[userID] = domain.RiskScore{UserID: userID, Score: 0, UpdatedAt: time.Now().UTC()}
	return nil
}
