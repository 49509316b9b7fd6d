package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/agrisense/sprayerd/internal/capture"
	"github.com/agrisense/sprayerd/internal/logger"
)

// stubClassifier returns a fixed result or error
type stubClassifier struct {
	name   string
	result Result
	err    error
	calls  int
}

func (s *stubClassifier) Name() string {
	return s.name
}

func (s *stubClassifier) Classify(ctx context.Context, frame *capture.Frame) (Result, error) {
	s.calls++
	if s.err != nil {
		return Result{}, s.err
	}
	return s.result, nil
}

func TestFallback_PrimarySucceeds(t *testing.T) {
	primary := &stubClassifier{name: "model", result: Result{Label: "Early Blight", Severity: SeverityHigh, Strategy: "model"}}
	fallback := &stubClassifier{name: "heuristic", result: Result{Label: "Healthy", Strategy: "heuristic"}}

	c := WithFallback(primary, fallback, logger.NewNopLogger())
	result, err := c.Classify(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.Strategy != "model" {
		t.Errorf("Expected primary result, got strategy %q", result.Strategy)
	}
	if fallback.calls != 0 {
		t.Error("Fallback should not run when the primary succeeds")
	}
}

func TestFallback_DegradesOnPrimaryFailure(t *testing.T) {
	primary := &stubClassifier{name: "model", err: errors.New("service down")}
	fallback := &stubClassifier{name: "heuristic", result: Result{Label: "Possible Leaf Spot", Severity: SeverityLow, Strategy: "heuristic"}}

	c := WithFallback(primary, fallback, logger.NewNopLogger())
	result, err := c.Classify(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("Degraded classify must not surface the primary error: %v", err)
	}

	if result.Strategy != "heuristic" {
		t.Errorf("Expected fallback result, got strategy %q", result.Strategy)
	}
	if primary.calls != 1 {
		t.Errorf("Expected one primary attempt, got %d", primary.calls)
	}
}

func TestFallback_BothFail(t *testing.T) {
	primary := &stubClassifier{name: "model", err: errors.New("service down")}
	fallback := &stubClassifier{name: "heuristic", err: errors.New("decode failed")}

	c := WithFallback(primary, fallback, logger.NewNopLogger())
	if _, err := c.Classify(context.Background(), testFrame()); err == nil {
		t.Error("Expected error when both strategies fail")
	}
}
