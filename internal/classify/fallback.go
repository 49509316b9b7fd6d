package classify

import (
	"context"

	"github.com/agrisense/sprayerd/internal/capture"
	"github.com/agrisense/sprayerd/internal/logger"
)

// fallbackClassifier tries the primary strategy and degrades to the
// fallback when it fails. The failure is logged, never surfaced to the
// caller as an error.
type fallbackClassifier struct {
	primary  Classifier
	fallback Classifier
	logger   *logger.Logger
}

// WithFallback wraps a primary classifier so per-call failures degrade to
// the fallback strategy instead of propagating.
func WithFallback(primary, fallback Classifier, log *logger.Logger) Classifier {
	return &fallbackClassifier{
		primary:  primary,
		fallback: fallback,
		logger:   log,
	}
}

func (f *fallbackClassifier) Name() string {
	return f.primary.Name()
}

func (f *fallbackClassifier) Classify(ctx context.Context, frame *capture.Frame) (Result, error) {
	return f.ClassifyWithOptions(ctx, frame, Options{})
}

func (f *fallbackClassifier) ClassifyWithOptions(ctx context.Context, frame *capture.Frame, opts Options) (Result, error) {
	result, err := classifyWith(ctx, f.primary, frame, opts)
	if err == nil {
		return result, nil
	}

	f.logger.Warn("Primary classifier failed, using fallback",
		"primary", f.primary.Name(),
		"fallback", f.fallback.Name(),
		"error", err,
	)
	return classifyWith(ctx, f.fallback, frame, opts)
}

// classifyWith dispatches through ClassifyWithOptions when the strategy
// supports per-call options.
func classifyWith(ctx context.Context, c Classifier, frame *capture.Frame, opts Options) (Result, error) {
	if co, ok := c.(ClassifierWithOptions); ok {
		return co.ClassifyWithOptions(ctx, frame, opts)
	}
	return c.Classify(ctx, frame)
}
