package classifier

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/secwatch/account-security/internal/domain"
	"github.com/secwatch/account-security/internal/domain/urlscan"
)

// DefaultThreshold applies to legacy artifacts that carry no calibrated threshold
const DefaultThreshold = 0.5

// Shape records which artifact layout a model was loaded from
type Shape string

const (
	ShapeBare       Shape = "bare"
	ShapeStructured Shape = "structured"
)

// Artifact is the canonical in-memory form of a trained classifier.
// It is read-only once loaded and safe to share across goroutines.
type Artifact struct {
	Model        Model
	FeatureNames []string
	Threshold    float64
	Shape        Shape
	Fingerprint  string // hex SHA-256 of the artifact file
}

// structuredArtifact is the {model, feature_names, phishing_threshold} layout
type structuredArtifact struct {
	Model             json.RawMessage `json:"model"`
	FeatureNames      []string        `json:"feature_names"`
	PhishingThreshold *float64        `json:"phishing_threshold"`
}

// encoding is one supported on-disk format
type encoding struct {
	name   string
	decode func([]byte) ([]byte, error)
}

var encodings = []encoding{
	{name: "json", decode: func(b []byte) ([]byte, error) { return b, nil }},
	{name: "gzip+json", decode: gunzip},
}

// LoadArtifact reads and decodes the artifact at path.
//
// A missing file yields ErrModelUnavailable; a file that can't be decoded in
// any supported format yields ErrModelCorrupt.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no artifact at %s", domain.ErrModelUnavailable, path)
		}
		return nil, fmt.Errorf("failed to read model artifact %s: %w", path, err)
	}
	return DecodeArtifact(data)
}

// DecodeArtifact resolves the raw artifact bytes into an Artifact, trying
// each supported encoding in turn
func DecodeArtifact(data []byte) (*Artifact, error) {
	sum := sha256.Sum256(data)
	fingerprint := hex.EncodeToString(sum[:])

	var errs []error
	for _, enc := range encodings {
		payload, err := enc.decode(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", enc.name, err))
			continue
		}
		artifact, err := parseArtifact(payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", enc.name, err))
			continue
		}
		artifact.Fingerprint = fingerprint
		return artifact, nil
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrModelCorrupt, errors.Join(errs...))
}

// parseArtifact resolves the bare-vs-structured union once, at load time
func parseArtifact(payload []byte) (*Artifact, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, err
	}

	if _, ok := probe["model"]; !ok {
		forest, err := parseForest(payload)
		if err != nil {
			return nil, err
		}
		return &Artifact{
			Model:        forest,
			FeatureNames: urlscan.FeatureNames[:],
			Threshold:    DefaultThreshold,
			Shape:        ShapeBare,
		}, nil
	}

	var doc structuredArtifact
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	forest, err := parseForest(doc.Model)
	if err != nil {
		return nil, err
	}

	threshold := DefaultThreshold
	if doc.PhishingThreshold != nil {
		threshold = *doc.PhishingThreshold
	}
	if !(threshold > 0 && threshold < 1) {
		return nil, fmt.Errorf("phishing_threshold %v outside (0,1)", threshold)
	}

	names := doc.FeatureNames
	if len(names) == 0 {
		names = urlscan.FeatureNames[:]
	} else if err := checkFeatureOrder(names); err != nil {
		return nil, err
	}

	return &Artifact{
		Model:        forest,
		FeatureNames: names,
		Threshold:    threshold,
		Shape:        ShapeStructured,
	}, nil
}

func parseForest(raw []byte) (*Forest, error) {
	var forest Forest
	if err := json.Unmarshal(raw, &forest); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := forest.Validate(); err != nil {
		return nil, err
	}
	return &forest, nil
}

// checkFeatureOrder rejects models trained on a different feature layout
func checkFeatureOrder(names []string) error {
	if len(names) != urlscan.NumFeatures {
		return fmt.Errorf("artifact lists %d features, extractor produces %d", len(names), urlscan.NumFeatures)
	}
	for i, name := range names {
		if name != urlscan.FeatureNames[i] {
			return fmt.Errorf("feature %d is %q, extractor produces %q", i, name, urlscan.FeatureNames[i])
		}
	}
	return nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
