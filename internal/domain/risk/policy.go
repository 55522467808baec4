package risk

import (
	"fmt"
	"sort"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Band maps every score at or above MinScore to Severity, up to the next band
type Band struct {
	MinScore int    `yaml:"min_score" json:"min_score"`
	Severity string `yaml:"severity" json:"severity"`
}

// DefaultBands returns the stock escalation ladder
func DefaultBands() []Band {
	return []Band{
		{MinScore: 30, Severity: SeverityLow},
		{MinScore: 50, Severity: SeverityMedium},
		{MinScore: 70, Severity: SeverityHigh},
		{MinScore: 100, Severity: SeverityCritical},
	}
}

// AlertDecision is what a policy wants recorded for a given score
type AlertDecision struct {
	Severity string
	Message  string
}

// AlertPolicy turns a post-update risk score into an alert decision.
// Returning false means the score does not warrant an alert at all.
type AlertPolicy interface {
	Evaluate(userID int64, score int) (AlertDecision, bool)
}

// BandPolicy is the default AlertPolicy: the highest band whose MinScore the
// score reaches decides the severity
type BandPolicy struct {
	bands []Band
}

// NewBandPolicy validates and sorts bands. MinScores must be positive and distinct.
func NewBandPolicy(bands []Band) (*BandPolicy, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("at least one alert band is required")
	}

	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinScore < sorted[j].MinScore })

	for i, b := range sorted {
		if b.MinScore <= 0 {
			return nil, fmt.Errorf("alert band %q: min_score must be positive, got %d", b.Severity, b.MinScore)
		}
		if b.Severity == "" {
			return nil, fmt.Errorf("alert band at %d: severity is empty", b.MinScore)
		}
		if i > 0 && sorted[i-1].MinScore == b.MinScore {
			return nil, fmt.Errorf("alert bands %q and %q share min_score %d", sorted[i-1].Severity, b.Severity, b.MinScore)
		}
	}

	return &BandPolicy{bands: sorted}, nil
}

// Bands returns the bands in ascending order
func (p *BandPolicy) Bands() []Band {
	return p.bands
}

// Evaluate implements AlertPolicy
func (p *BandPolicy) Evaluate(userID int64, score int) (AlertDecision, bool) {
	var hit *Band
	for i := range p.bands {
		if score < p.bands[i].MinScore {
			break
		}
		hit = &p.bands[i]
	}
	if hit == nil {
		return AlertDecision{}, false
	}

	return AlertDecision{
		Severity: hit.Severity,
		Message:  fmt.Sprintf("User %d risk score reached %d (%s severity threshold %d)", userID, score, hit.Severity, hit.MinScore),
	}, true
}
