package classifier

import (
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/secwatch/account-security/internal/domain"
	"github.com/secwatch/account-security/internal/domain/urlscan"
)

// Prediction is the thresholded output for one feature vector
type Prediction struct {
	Verdict     domain.Verdict
	Confidence  float64 // probability of the winning class
	Probability float64 // raw phishing probability
	Threshold   float64
}

// LoadObserver is notified after every attempt to load the artifact
type LoadObserver func(err error, elapsed time.Duration)

// Option configures a Classifier
type Option func(*Classifier)

// WithLoadObserver registers a callback for artifact load attempts
func WithLoadObserver(obs LoadObserver) Option {
	return func(c *Classifier) { c.observer = obs }
}

// Classifier is a lazily-loaded, shared handle on the phishing model.
//
// The artifact is read from disk on first use. Concurrent first callers share
// a single read; once loaded the artifact is immutable and lock-free to use.
// Load failures are not cached, so an artifact deployed later is picked up
// by the next request.
type Classifier struct {
	path     string
	load     func(path string) (*Artifact, error)
	observer LoadObserver

	artifact atomic.Pointer[Artifact]
	group    singleflight.Group
}

// New creates a classifier that will load its artifact from path on first use
func New(path string, opts ...Option) *Classifier {
	c := &Classifier{path: path, load: LoadArtifact}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewWithArtifact creates a classifier around an already-loaded artifact
func NewWithArtifact(artifact *Artifact) *Classifier {
	c := &Classifier{}
	c.artifact.Store(artifact)
	return c
}

// Artifact returns the loaded artifact, loading it if needed
func (c *Classifier) Artifact() (*Artifact, error) {
	if a := c.artifact.Load(); a != nil {
		return a, nil
	}

	v, err, _ := c.group.Do("artifact", func() (interface{}, error) {
		if a := c.artifact.Load(); a != nil {
			return a, nil
		}
		if c.load == nil {
			return nil, domain.ErrModelUnavailable
		}

		start := time.Now()
		a, err := c.load(c.path)
		if c.observer != nil {
			c.observer(err, time.Since(start))
		}
		if err != nil {
			return nil, err
		}
		c.artifact.Store(a)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// Classify scores v with the loaded model
func (c *Classifier) Classify(v urlscan.FeatureVector) (Prediction, error) {
	artifact, err := c.Artifact()
	if err != nil {
		return Prediction{}, err
	}
	return Decide(artifact.Model.PredictProba(v), artifact.Threshold), nil
}

// Decide applies the verdict rule: PHISHING iff probability >= threshold.
// Confidence is always the probability of the winning class.
func Decide(probability, threshold float64) Prediction {
	probability = min(max(probability, 0), 1)

	if probability >= threshold {
		return Prediction{
			Verdict:     domain.VerdictPhishing,
			Confidence:  probability,
			Probability: probability,
			Threshold:   threshold,
		}
	}
	return Prediction{
		Verdict:     domain.VerdictSafe,
		Confidence:  1 - probability,
		Probability: probability,
		Threshold:   threshold,
	}
}
