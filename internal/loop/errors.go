package loop

import (
	"errors"
	"fmt"

	"tradesignal/internal/features"
	"tradesignal/internal/inference"
	"tradesignal/internal/model"
)

// ErrMissingPrice is returned when the latest feature row has no close.
var ErrMissingPrice = errors.New("loop: latest row has no close price")

// Kind classifies a cycle failure.
type Kind int

const (
	// KindRuntime covers transport failures, computation errors and anything
	// unrecognised. Reported as an ERROR event.
	KindRuntime Kind = iota
	// KindData means the fetched window cannot produce a decision. Reported
	// as a WARNING event and the cycle is skipped.
	KindData
	// KindFatal means the model is unusable. Only raised at startup.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindFatal:
		return "fatal"
	default:
		return "runtime"
	}
}

// CycleError records which stage of a cycle failed.
type CycleError struct {
	Kind  Kind
	Stage string // fetch, features, inference, position, panic, startup
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// Classify maps err to a Kind. A wrapped *CycleError keeps its own kind.
func Classify(err error) Kind {
	var ce *CycleError
	switch {
	case err == nil:
		return KindRuntime
	case errors.As(err, &ce):
		return ce.Kind
	case errors.Is(err, inference.ErrModelUnavailable):
		return KindFatal
	case errors.Is(err, features.ErrInsufficientCandles),
		errors.Is(err, features.ErrEmptyTable),
		errors.Is(err, model.ErrInvalidCandles),
		errors.Is(err, ErrMissingPrice):
		return KindData
	default:
		return KindRuntime
	}
}

func stageErr(stage string, err error) *CycleError {
	return &CycleError{Kind: Classify(err), Stage: stage, Err: err}
}
