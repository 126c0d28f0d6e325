package inference

import "fmt"

// Classifier maps a scaled feature vector to a class label.
type Classifier interface {
	Predict(x []float64) int
}

// Logistic is a linear multinomial (or binary) classifier. The predicted
// label is the class with the highest linear score.
type Logistic struct {
	classes   []int
	coef      [][]float64
	intercept []float64
}

// NewLogistic validates the weights against nFeatures.
// A single coefficient row with two classes is the binary layout.
func NewLogistic(classes []int, coef [][]float64, intercept []float64, nFeatures int) (*Logistic, error) {
	if err := checkClasses(classes); err != nil {
		return nil, err
	}
	rows := len(classes)
	if rows == 2 && len(coef) == 1 {
		rows = 1
	}
	if len(coef) != rows || len(intercept) != rows {
		return nil, fmt.Errorf("logistic: %d classes but %d coef rows and %d intercepts",
			len(classes), len(coef), len(intercept))
	}
	for i, w := range coef {
		if len(w) != nFeatures {
			return nil, fmt.Errorf("logistic: coef row %d has %d weights, want %d", i, len(w), nFeatures)
		}
	}
	return &Logistic{classes: classes, coef: coef, intercept: intercept}, nil
}

func (l *Logistic) Predict(x []float64) int {
	if len(l.coef) == 1 {
		if dot(l.coef[0], x)+l.intercept[0] > 0 {
			return l.classes[1]
		}
		return l.classes[0]
	}
	best, bestScore := 0, 0.0
	for i, w := range l.coef {
		score := dot(w, x) + l.intercept[i]
		if i == 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return l.classes[best]
}

// Node is one decision tree node in flat array layout. A node with
// Left == -1 is a leaf whose Value holds per-class weights.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value"`
}

// Forest averages the leaf class distributions of its trees and predicts
// the most probable class.
type Forest struct {
	classes []int
	trees   [][]Node
}

// NewForest validates node indices and leaf widths.
func NewForest(classes []int, trees [][]Node, nFeatures int) (*Forest, error) {
	if err := checkClasses(classes); err != nil {
		return nil, err
	}
	if len(trees) == 0 {
		return nil, fmt.Errorf("forest: no trees")
	}
	for t, nodes := range trees {
		if len(nodes) == 0 {
			return nil, fmt.Errorf("forest: tree %d is empty", t)
		}
		for i, n := range nodes {
			if n.Left == -1 {
				if len(n.Value) != len(classes) {
					return nil, fmt.Errorf("forest: tree %d leaf %d has %d values, want %d",
						t, i, len(n.Value), len(classes))
				}
				continue
			}
			if n.Left <= i || n.Left >= len(nodes) || n.Right <= i || n.Right >= len(nodes) {
				return nil, fmt.Errorf("forest: tree %d node %d child out of range", t, i)
			}
			if n.Feature < 0 || n.Feature >= nFeatures {
				return nil, fmt.Errorf("forest: tree %d node %d feature %d out of range", t, i, n.Feature)
			}
		}
	}
	return &Forest{classes: classes, trees: trees}, nil
}

func (f *Forest) Predict(x []float64) int {
	probs := make([]float64, len(f.classes))
	for _, nodes := range f.trees {
		leaf := nodes[0]
		idx := 0
		for leaf.Left != -1 {
			if x[leaf.Feature] <= leaf.Threshold {
				idx = leaf.Left
			} else {
				idx = leaf.Right
			}
			leaf = nodes[idx]
		}
		total := 0.0
		for _, v := range leaf.Value {
			total += v
		}
		if total == 0 {
			continue
		}
		for i, v := range leaf.Value {
			probs[i] += v / total
		}
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return f.classes[best]
}

func checkClasses(classes []int) error {
	if len(classes) < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	for _, c := range classes {
		if c < 0 || c > 2 {
			return fmt.Errorf("unknown class label %d", c)
		}
	}
	return nil
}

func dot(w, x []float64) float64 {
	s := 0.0
	for i := range w {
		s += w[i] * x[i]
	}
	return s
}
