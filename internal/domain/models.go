package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags an entry in the per-user event log
type EventType string

const (
	EventSuccessfulLogin EventType = "SUCCESSFUL_LOGIN"
	EventFailedLogin     EventType = "FAILED_LOGIN"
	EventSecurityAlert   EventType = "SECURITY_ALERT"
	EventURLScan         EventType = "URL_SCAN"
)

// SystemEventTypes are the tags written by the service itself.
// Any other tag is a caller-supplied action (page access, API call, ...).
var SystemEventTypes = []EventType{
	EventSuccessfulLogin,
	EventFailedLogin,
	EventSecurityAlert,
	EventURLScan,
}

// IsSystem reports whether t is one of the service-owned tags
func (t EventType) IsSystem() bool {
	for _, s := range SystemEventTypes {
		if t == s {
			return true
		}
	}
	return false
}

// UnknownUserID is recorded for login attempts against usernames that don't exist
const UnknownUserID int64 = 0

// User is an account known to the service. Credentials live with the auth layer.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is an immutable, timestamped record of something a user (or the
// service, on their behalf) did. Events are append-only.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	UserID    int64          `json:"user_id"`
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"event_data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventFilter selects events for windowed count queries.
//
// An empty Types list matches every type. When ExcludeTypes is set, Types
// is a deny-list instead of an allow-list.
type EventFilter struct {
	UserID       int64
	Types        []EventType
	ExcludeTypes bool
	Since        time.Time
}

// Matches reports whether e passes the filter
func (f EventFilter) Matches(e Event) bool {
	if e.UserID != f.UserID || e.CreatedAt.Before(f.Since) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	listed := false
	for _, t := range f.Types {
		if e.Type == t {
			listed = true
			break
		}
	}
	return listed != f.ExcludeTypes
}

// SortOrder controls ordered event retrieval
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// RiskScore is the per-user cumulative score. It only grows until an
// administrative reset sets it back to zero.
type RiskScore struct {
	UserID    int64     `json:"user_id"`
	Score     int       `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alert is created by the alert evaluator and never mutated afterwards
type Alert struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Score     int       `json:"score"` // risk score that triggered the alert
	CreatedAt time.Time `json:"created_at"`
}

// Detection represents a single positive anomaly signal
type Detection struct {
	Type      string `json:"type"`       // e.g., "BRUTE_FORCE"
	RiskDelta int    `json:"risk_delta"` // non-negative increment for the user's score
	Count     int    `json:"count"`      // events observed in the window
	Evidence  string `json:"evidence"`   // Human-readable explanation

	// SecurityEvent asks the caller to log the detection itself as a
	// SECURITY_ALERT event before applying the delta
	SecurityEvent bool `json:"security_event"`
}

// Verdict is the thresholded classifier output
type Verdict string

const (
	VerdictPhishing Verdict = "PHISHING"
	VerdictSafe     Verdict = "SAFE"
)

// ScanResult bundles a phishing verdict with everything needed to audit it
type ScanResult struct {
	Prediction          Verdict            `json:"prediction"`
	Confidence          float64            `json:"confidence"`
	PhishingProbability float64            `json:"phishing_probability"`
	PhishingThreshold   float64            `json:"phishing_threshold"`
	NormalizedURL       string             `json:"normalized_url"`
	RegisteredDomain    string             `json:"registered_domain,omitempty"`
	Features            map[string]float64 `json:"features"`
}
