// Package inference adapts the pretrained scaler and classifier artifacts to
// feature rows. A Model is immutable after Load and safe for concurrent use.
package inference

import (
	"errors"
	"fmt"

	"tradesignal/internal/features"
	"tradesignal/internal/model"
)

// ErrModelUnavailable is returned when the artifacts cannot be loaded or
// fail validation.
var ErrModelUnavailable = errors.New("inference: model unavailable")

// Prediction is the outcome of scoring one feature row.
type Prediction struct {
	Signal model.Signal
	Label  int
	// Missing lists scaler features absent from the row; each was scored as 0.0.
	Missing []string
}

// Model pairs a fitted scaler with a fitted classifier.
type Model struct {
	scaler *Scaler
	clf    Classifier
}

// New builds a Model from already-constructed parts.
func New(scaler *Scaler, clf Classifier) *Model {
	return &Model{scaler: scaler, clf: clf}
}

// Load reads the scaler and classifier JSON artifacts. Any failure wraps
// ErrModelUnavailable.
func Load(scalerPath, classifierPath string) (*Model, error) {
	scaler, err := loadScaler(scalerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: scaler: %v", ErrModelUnavailable, err)
	}
	clf, err := loadClassifier(classifierPath, len(scaler.FeatureNames()))
	if err != nil {
		return nil, fmt.Errorf("%w: classifier: %v", ErrModelUnavailable, err)
	}
	return New(scaler, clf), nil
}

// FeatureNames returns the columns the scaler expects.
func (m *Model) FeatureNames() []string { return m.scaler.FeatureNames() }

// Predict scores row. Every expected feature missing from row is taken as
// 0.0 and reported in Prediction.Missing rather than failing.
func (m *Model) Predict(row features.Row) (Prediction, error) {
	names := m.scaler.FeatureNames()
	x := make([]float64, len(names))
	var missing []string
	for i, name := range names {
		v, ok := row[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		x[i] = v
	}

	label := m.clf.Predict(m.scaler.Transform(x))
	sig, err := model.SignalFromLabel(label)
	if err != nil {
		return Prediction{}, fmt.Errorf("inference: predict: %w", err)
	}
	return Prediction{Signal: sig, Label: label, Missing: missing}, nil
}
