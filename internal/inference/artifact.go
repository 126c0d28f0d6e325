package inference

import (
	"encoding/json"
	"fmt"
	"os"
)

// scalerArtifact is the on-disk scaler format.
type scalerArtifact struct {
	Kind           string    `json:"kind"`
	FeatureNamesIn []string  `json:"feature_names_in"`
	Mean           []float64 `json:"mean"`
	Scale          []float64 `json:"scale"`
}

// classifierArtifact is the on-disk classifier format. Logistic models use
// Coef/Intercept; forests use Trees.
type classifierArtifact struct {
	Kind      string      `json:"kind"`
	Classes   []int       `json:"classes"`
	Coef      [][]float64 `json:"coef,omitempty"`
	Intercept []float64   `json:"intercept,omitempty"`
	Trees     [][]Node    `json:"trees,omitempty"`
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func loadScaler(path string) (*Scaler, error) {
	var a scalerArtifact
	if err := readJSON(path, &a); err != nil {
		return nil, err
	}
	if a.Kind != "standard" {
		return nil, fmt.Errorf("unsupported scaler kind %q", a.Kind)
	}
	return NewScaler(a.FeatureNamesIn, a.Mean, a.Scale)
}

func loadClassifier(path string, nFeatures int) (Classifier, error) {
	var a classifierArtifact
	if err := readJSON(path, &a); err != nil {
		return nil, err
	}
	switch a.Kind {
	case "logistic":
		return NewLogistic(a.Classes, a.Coef, a.Intercept, nFeatures)
	case "forest":
		return NewForest(a.Classes, a.Trees, nFeatures)
	default:
		return nil, fmt.Errorf("unsupported classifier kind %q", a.Kind)
	}
}
