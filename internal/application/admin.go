package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/secwatch/account-security/internal/domain"
)

// AlertView is an alert annotated with the user's current risk score
type AlertView struct {
	domain.Alert
	RiskScore int `json:"risk_score"`
}

// EventView is the admin-facing summary of one event
type EventView struct {
	EventType domain.EventType `json:"event_type"`
	Resource  string           `json:"resource"`
	Reason    string           `json:"reason"`
	URL       string           `json:"url,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// UserProfile is the admin drill-down for one account
type UserProfile struct {
	User         domain.User    `json:"user"`
	RiskScore    int            `json:"risk_score"`
	RecentAlerts []domain.Alert `json:"recent_alerts"`
	RecentEvents []EventView    `json:"recent_events"`
}

// ListAlerts returns alerts newest first with each user's current score.
// limit <= 0 returns every alert.
func (s *MonitoringService) ListAlerts(ctx context.Context, limit int) ([]AlertView, error) {
	alerts, err := s.store.ListAlerts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	scores := make(map[int64]int)
	views := make([]AlertView, 0, len(alerts))
	for _, alert := range alerts {
		score, ok := scores[alert.UserID]
		if !ok {
			score, err = s.store.GetRiskScore(ctx, alert.UserID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch risk score: %w", err)
			}
			scores[alert.UserID] = score
		}
		views = append(views, AlertView{Alert: alert, RiskScore: score})
	}
	return views, nil
}

// ListUsers returns every account
func (s *MonitoringService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// GetUserProfile returns the user with their score, 5 latest alerts and 10 latest events
func (s *MonitoringService) GetUserProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	score, err := s.store.GetRiskScore(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch risk score: %w", err)
	}

	alerts, err := s.store.ListUserAlerts(ctx, userID, profileAlertLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user alerts: %w", err)
	}

	events, err := s.store.ListEvents(ctx, userID, domain.Descending, profileEventLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list user events: %w", err)
	}

	recent := make([]EventView, 0, len(events))
	for _, e := range events {
		view := eventView(e)
		if view.Resource == "" {
			view.Resource = "N/A"
		}
		recent = append(recent, view)
	}

	return &UserProfile{
		User:         *user,
		RiskScore:    score,
		RecentAlerts: alerts,
		RecentEvents: recent,
	}, nil
}

// GetTimeline returns all of a user's events, oldest first. Unknown users
// (including UnknownUserID) simply have an empty or anonymous timeline.
func (s *MonitoringService) GetTimeline(ctx context.Context, userID int64) ([]EventView, error) {
	events, err := s.store.ListEvents(ctx, userID, domain.Ascending, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list user events: %w", err)
	}

	timeline := make([]EventView, 0, len(events))
	for _, e := range events {
		timeline = append(timeline, eventView(e))
	}
	return timeline, nil
}

// ResetUserSecurity purges the user's events and alerts and zeroes the score
func (s *MonitoringService) ResetUserSecurity(ctx context.Context, userID int64) error {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	if err := s.engine.Reset(ctx, userID, s.store.ResetUserSecurity); err != nil {
		return fmt.Errorf("failed to reset user security data: %w", err)
	}

	s.logger.Info("User security data reset", zap.Int64("user_id", userID))
	return nil
}

func eventView(e domain.Event) EventView {
	return EventView{
		EventType: e.Type,
		Resource:  payloadString(e.Data, "resource"),
		Reason:    payloadString(e.Data, "reason"),
		URL:       payloadString(e.Data, "url"),
		CreatedAt: e.CreatedAt,
	}
}

func payloadString(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
