package classifier

import (
	"fmt"

	"github.com/secwatch/account-security/internal/domain/urlscan"
)

// ModelTypeRandomForest is the only ensemble type served today
const ModelTypeRandomForest = "random_forest"

// leafNode marks a node without children in the child arrays
const leafNode = -1

// Model scores a feature vector with the probability of the phishing class
type Model interface {
	PredictProba(v urlscan.FeatureVector) float64
}

// Tree is a binary decision tree in flat-array layout: node i tests
// x[Feature[i]] <= Threshold[i] and continues at ChildrenLeft[i] when true,
// ChildrenRight[i] otherwise. Leaves hold class counts [safe, phishing] in Value.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// Forest is an averaged ensemble of decision trees
type Forest struct {
	Type      string `json:"type"`
	NFeatures int    `json:"n_features"`
	Trees     []Tree `json:"trees"`
}

// Validate checks the forest is structurally sound. Child ids must be
// strictly greater than their parent so that inference always terminates.
func (f *Forest) Validate() error {
	if f.Type != "" && f.Type != ModelTypeRandomForest {
		return fmt.Errorf("unsupported model type %q", f.Type)
	}
	if f.NFeatures != urlscan.NumFeatures {
		return fmt.Errorf("model expects %d features, extractor produces %d", f.NFeatures, urlscan.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}

	for t, tree := range f.Trees {
		n := len(tree.ChildrenLeft)
		if n == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		if len(tree.ChildrenRight) != n || len(tree.Feature) != n || len(tree.Threshold) != n || len(tree.Value) != n {
			return fmt.Errorf("tree %d has mismatched array lengths", t)
		}
		for i := 0; i < n; i++ {
			left, right := tree.ChildrenLeft[i], tree.ChildrenRight[i]
			if left == leafNode || right == leafNode {
				if left != right {
					return fmt.Errorf("tree %d node %d has a single child", t, i)
				}
				if len(tree.Value[i]) != 2 || tree.Value[i][0] < 0 || tree.Value[i][1] < 0 {
					return fmt.Errorf("tree %d leaf %d must hold two non-negative class counts", t, i)
				}
				continue
			}
			if left <= i || left >= n || right <= i || right >= n {
				return fmt.Errorf("tree %d node %d has out-of-order children", t, i)
			}
			if tree.Feature[i] < 0 || tree.Feature[i] >= f.NFeatures {
				return fmt.Errorf("tree %d node %d splits on unknown feature %d", t, i, tree.Feature[i])
			}
		}
	}
	return nil
}

// PredictProba returns the mean over trees of the phishing-class share at
// the reached leaf
func (f *Forest) PredictProba(v urlscan.FeatureVector) float64 {
	// Trees were fitted on float32 inputs, so splits compare at that precision
	var x [urlscan.NumFeatures]float64
	for i, value := range v {
		x[i] = float64(float32(value))
	}

	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].predict(&x)
	}
	return sum / float64(len(f.Trees))
}

func (t *Tree) predict(x *[urlscan.NumFeatures]float64) float64 {
	node := 0
	for t.ChildrenLeft[node] != leafNode {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	counts := t.Value[node]
	total := counts[0] + counts[1]
	if total <= 0 {
		return 0
	}
	return counts[1] / total
}
