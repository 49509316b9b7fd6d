package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agrisense/sprayerd/internal/capture"
	"github.com/agrisense/sprayerd/internal/logger"
)

// RemoteConfig configures the model-backed strategy
type RemoteConfig struct {
	ServiceURL string
	Timeout    time.Duration

	// Severity mapping policy for model output.
	MediumConfidence  float64
	HighConfidence    float64
	HealthyConfidence float64

	// Crops maps crop names to the class list their model emits.
	Crops map[string]CropProfile
}

// CropProfile describes a per-crop model on the inference service
type CropProfile struct {
	Model   string
	Classes []string
}

// inferenceRequest is the wire request to the inference service
type inferenceRequest struct {
	Image   string   `json:"image"`
	Model   string   `json:"model,omitempty"`
	Classes []string `json:"classes,omitempty"`
}

// inferenceResponse is the wire response from the inference service
type inferenceResponse struct {
	Label           string  `json:"label"`
	Confidence      float64 `json:"confidence"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// RemoteClassifier delegates classification to an HTTP inference service
// and maps (label, confidence) to severity with fixed thresholds.
type RemoteClassifier struct {
	cfg        RemoteConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewRemoteClassifier creates the model-backed strategy
func NewRemoteClassifier(cfg RemoteConfig, log *logger.Logger) *RemoteClassifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &RemoteClassifier{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
	}
}

// Name returns the strategy name
func (c *RemoteClassifier) Name() string {
	return "model"
}

// Ping checks the inference service is reachable. Used once at startup to
// decide whether the model-backed strategy is selected at all.
func (c *RemoteClassifier) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServiceURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service returned status %d", resp.StatusCode)
	}
	return nil
}

// Classify runs inference with the default model
func (c *RemoteClassifier) Classify(ctx context.Context, frame *capture.Frame) (Result, error) {
	return c.ClassifyWithOptions(ctx, frame, Options{})
}

// ClassifyWithOptions runs inference, optionally against a crop profile
func (c *RemoteClassifier) ClassifyWithOptions(ctx context.Context, frame *capture.Frame, opts Options) (Result, error) {
	if frame == nil || len(frame.Data) == 0 {
		return Result{}, fmt.Errorf("empty frame")
	}

	req := inferenceRequest{
		Image: base64.StdEncoding.EncodeToString(frame.Data),
	}
	if opts.Crop != "" {
		profile, ok := c.cfg.Crops[opts.Crop]
		if !ok {
			return Result{}, fmt.Errorf("unknown crop profile: %q", opts.Crop)
		}
		req.Model = profile.Model
		req.Classes = profile.Classes
	}

	resp, err := c.infer(ctx, req)
	if err != nil {
		return Result{}, err
	}

	result := c.mapResponse(resp)
	result.FrameSeq = frame.Seq
	result.At = time.Now()

	c.logger.Debug("Inference completed",
		"label", resp.Label,
		"confidence", resp.Confidence,
		"severity", result.Severity.String(),
		"inference_time_ms", resp.InferenceTimeMs,
	)

	return result, nil
}

func (c *RemoteClassifier) infer(ctx context.Context, req inferenceRequest) (*inferenceResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServiceURL+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("inference service returned status %d: %s",
			httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var resp inferenceResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Label == "" {
		return nil, fmt.Errorf("inference response missing label")
	}

	return &resp, nil
}

// mapResponse applies the severity policy. Healthy-equivalent labels map
// toward None; anything else scales with confidence.
func (c *RemoteClassifier) mapResponse(resp *inferenceResponse) Result {
	result := Result{
		Label:      resp.Label,
		Confidence: resp.Confidence,
		Strategy:   c.Name(),
	}

	if isHealthyLabel(resp.Label) {
		if resp.Confidence > c.cfg.HealthyConfidence {
			result.Severity = SeverityNone
		} else {
			result.Severity = SeverityLow
		}
		return result
	}

	switch {
	case resp.Confidence < c.cfg.MediumConfidence:
		result.Severity = SeverityLow
	case resp.Confidence < c.cfg.HighConfidence:
		result.Severity = SeverityMedium
	default:
		result.Severity = SeverityHigh
	}
	return result
}

// isHealthyLabel recognizes healthy-equivalent class names
func isHealthyLabel(label string) bool {
	return strings.EqualFold(strings.TrimSpace(label), "healthy")
}
