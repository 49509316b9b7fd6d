package classify

import (
	"context"
	"time"

	"github.com/agrisense/sprayerd/internal/capture"
)

// Severity is the ordered classification of detected plant condition.
// Only Medium and High permit actuation.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

// String returns the severity name
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the severity as its name
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Actionable reports whether this severity justifies spraying
func (s Severity) Actionable() bool {
	return s >= SeverityMedium
}

// Result is a single detection outcome. Immutable once produced.
type Result struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Severity   Severity  `json:"severity"`
	Strategy   string    `json:"strategy"`
	FrameSeq   uint64    `json:"frame_seq"`
	At         time.Time `json:"at"`
}

// Classifier maps a frame to a detection result
type Classifier interface {
	Classify(ctx context.Context, frame *capture.Frame) (Result, error)
	Name() string
}

// Options carries optional per-call parameters
type Options struct {
	// Crop selects a per-crop model profile on the inference service.
	Crop string
}

// ClassifierWithOptions is implemented by strategies that honor per-call
// options; others ignore them.
type ClassifierWithOptions interface {
	Classifier
	ClassifyWithOptions(ctx context.Context, frame *capture.Frame, opts Options) (Result, error)
}
