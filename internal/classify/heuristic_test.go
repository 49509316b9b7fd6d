package classify

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/agrisense/sprayerd/internal/capture"
)

func testHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		HueMin:         10,
		HueMax:         60,
		SatMin:         0.2,
		ValMin:         0.2,
		LowCoverage:    0.003,
		MediumCoverage: 0.02,
		HighCoverage:   0.08,
	}
}

// encodeSolidPNG produces a lossless frame filled with one color
func encodeSolidPNG(t *testing.T, c color.Color, w, h int) *capture.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return &capture.Frame{Data: buf.Bytes(), Width: w, Height: h, Seq: 7}
}

func TestHeuristic_HealthyFrame(t *testing.T) {
	h := NewHeuristicClassifier(testHeuristicConfig())

	// Pure green foliage sits well outside the necrotic hue band.
	frame := encodeSolidPNG(t, color.RGBA{R: 20, G: 180, B: 30, A: 255}, 32, 32)

	result, err := h.Classify(context.Background(), frame)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.Severity != SeverityNone {
		t.Errorf("Expected severity none, got %s", result.Severity)
	}
	if result.Label != "Healthy" {
		t.Errorf("Expected label Healthy, got %q", result.Label)
	}
	if result.Strategy != "heuristic" {
		t.Errorf("Expected heuristic strategy, got %q", result.Strategy)
	}
	if result.FrameSeq != 7 {
		t.Errorf("Expected frame seq 7, got %d", result.FrameSeq)
	}
}

func TestHeuristic_SevereFrame(t *testing.T) {
	h := NewHeuristicClassifier(testHeuristicConfig())

	// Brown-orange tissue: hue ~30 degrees, saturated and bright, so the
	// whole frame counts toward coverage.
	frame := encodeSolidPNG(t, color.RGBA{R: 200, G: 120, B: 40, A: 255}, 32, 32)

	result, err := h.Classify(context.Background(), frame)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.Severity != SeverityHigh {
		t.Errorf("Expected severity high, got %s", result.Severity)
	}
	if !result.Severity.Actionable() {
		t.Error("High severity must be actionable")
	}
}

func TestHeuristic_EmptyFrame(t *testing.T) {
	h := NewHeuristicClassifier(testHeuristicConfig())

	if _, err := h.Classify(context.Background(), nil); err == nil {
		t.Error("Expected error for nil frame")
	}
	if _, err := h.Classify(context.Background(), &capture.Frame{}); err == nil {
		t.Error("Expected error for empty frame")
	}
	if _, err := h.Classify(context.Background(), &capture.Frame{Data: []byte{0x00, 0x01}}); err == nil {
		t.Error("Expected error for undecodable frame")
	}
}

func TestHeuristic_MapCoverage(t *testing.T) {
	h := NewHeuristicClassifier(testHeuristicConfig())

	tests := []struct {
		name     string
		coverage float64
		severity Severity
		label    string
	}{
		{"clean frame", 0.0, SeverityNone, "Healthy"},
		{"trace below low", 0.001, SeverityNone, "Healthy"},
		{"at low breakpoint", 0.003, SeverityLow, "Possible Leaf Spot"},
		{"between low and medium", 0.01, SeverityLow, "Possible Leaf Spot"},
		{"at medium breakpoint", 0.02, SeverityMedium, "Infected: Leaf Spot"},
		{"between medium and high", 0.05, SeverityMedium, "Infected: Leaf Spot"},
		{"at high breakpoint", 0.08, SeverityHigh, "Severe Infection"},
		{"well past high", 0.5, SeverityHigh, "Severe Infection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := h.mapCoverage(tt.coverage)
			if result.Severity != tt.severity {
				t.Errorf("Coverage %v: expected severity %s, got %s",
					tt.coverage, tt.severity, result.Severity)
			}
			if result.Label != tt.label {
				t.Errorf("Coverage %v: expected label %q, got %q",
					tt.coverage, tt.label, result.Label)
			}
			if result.Confidence <= 0 || result.Confidence > 1 {
				t.Errorf("Coverage %v: confidence %v out of range",
					tt.coverage, result.Confidence)
			}
		})
	}
}

func TestRGBToHSV(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b float64
		hue     float64
		sat     float64
		val     float64
	}{
		{"black", 0, 0, 0, 0, 0, 0},
		{"white", 255, 255, 255, 0, 0, 1},
		{"red", 255, 0, 0, 0, 1, 1},
		{"green", 0, 255, 0, 120, 1, 1},
		{"blue", 0, 0, 255, 240, 1, 1},
		{"orange", 255, 128, 0, 30.12, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hue, sat, val := rgbToHSV(tt.r, tt.g, tt.b)
			if diff := hue - tt.hue; diff > 0.5 || diff < -0.5 {
				t.Errorf("Expected hue ~%v, got %v", tt.hue, hue)
			}
			if diff := sat - tt.sat; diff > 0.01 || diff < -0.01 {
				t.Errorf("Expected sat %v, got %v", tt.sat, sat)
			}
			if diff := val - tt.val; diff > 0.01 || diff < -0.01 {
				t.Errorf("Expected val %v, got %v", tt.val, val)
			}
		})
	}
}
