package classify

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"time"

	"github.com/agrisense/sprayerd/internal/capture"
)

// HeuristicConfig holds the hue/saturation/value band and coverage
// breakpoints for the non-learned strategy. Hue is in degrees [0,360),
// saturation and value are fractions in [0,1].
type HeuristicConfig struct {
	HueMin float64
	HueMax float64
	SatMin float64
	ValMin float64

	LowCoverage    float64
	MediumCoverage float64
	HighCoverage   float64
}

// HeuristicClassifier estimates disease severity from the fraction of
// pixels falling in a color band associated with necrotic or chlorotic
// tissue. Used as the fallback when no model is available and as the
// degradation path when inference fails.
type HeuristicClassifier struct {
	cfg HeuristicConfig
}

// NewHeuristicClassifier creates the heuristic strategy
func NewHeuristicClassifier(cfg HeuristicConfig) *HeuristicClassifier {
	return &HeuristicClassifier{cfg: cfg}
}

// Name returns the strategy name
func (h *HeuristicClassifier) Name() string {
	return "heuristic"
}

// Classify decodes the frame and maps band coverage to severity
func (h *HeuristicClassifier) Classify(ctx context.Context, frame *capture.Frame) (Result, error) {
	if frame == nil || len(frame.Data) == 0 {
		return Result{}, fmt.Errorf("empty frame")
	}

	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	coverage := h.bandCoverage(img)
	result := h.mapCoverage(coverage)
	result.FrameSeq = frame.Seq
	result.At = time.Now()
	return result, nil
}

// bandCoverage returns the fraction of pixels inside the configured band
func (h *HeuristicClassifier) bandCoverage(img image.Image) float64 {
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0
	}

	var inBand int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			hue, sat, val := rgbToHSV(float64(r>>8), float64(g>>8), float64(b>>8))
			if hue >= h.cfg.HueMin && hue <= h.cfg.HueMax &&
				sat >= h.cfg.SatMin && val >= h.cfg.ValMin {
				inBand++
			}
		}
	}

	return float64(inBand) / float64(total)
}

// mapCoverage maps a coverage fraction through the breakpoints. The
// synthetic confidence grows with coverage and stays below 1.0.
func (h *HeuristicClassifier) mapCoverage(coverage float64) Result {
	switch {
	case coverage < h.cfg.LowCoverage:
		return Result{
			Label:      "Healthy",
			Confidence: 1.0 - coverage,
			Severity:   SeverityNone,
			Strategy:   h.Name(),
		}
	case coverage < h.cfg.MediumCoverage:
		return Result{
			Label:      "Possible Leaf Spot",
			Confidence: math.Min(0.9, coverage*50),
			Severity:   SeverityLow,
			Strategy:   h.Name(),
		}
	case coverage < h.cfg.HighCoverage:
		return Result{
			Label:      "Infected: Leaf Spot",
			Confidence: math.Min(0.95, coverage*10),
			Severity:   SeverityMedium,
			Strategy:   h.Name(),
		}
	default:
		return Result{
			Label:      "Severe Infection",
			Confidence: math.Min(0.99, coverage*5),
			Severity:   SeverityHigh,
			Strategy:   h.Name(),
		}
	}
}

// rgbToHSV converts 8-bit RGB to hue (degrees), saturation and value
func rgbToHSV(r, g, b float64) (hue, sat, val float64) {
	r /= 255
	g /= 255
	b /= 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	val = max
	if max > 0 {
		sat = delta / max
	}

	if delta == 0 {
		return 0, sat, val
	}

	switch max {
	case r:
		hue = 60 * math.Mod((g-b)/delta, 6)
	case g:
		hue = 60 * ((b-r)/delta + 2)
	default:
		hue = 60 * ((r-g)/delta + 4)
	}
	if hue < 0 {
		hue += 360
	}
	return hue, sat, val
}
