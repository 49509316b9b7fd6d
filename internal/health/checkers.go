package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agrisense/sprayerd/internal/actuator"
)

// CaptureChecker reports whether the capture loop is producing fresh
// frames. lastRead returns the time of the last successful frame read.
type CaptureChecker struct {
	lastRead     func() time.Time
	maxStaleness time.Duration
}

func NewCaptureChecker(lastRead func() time.Time, maxStaleness time.Duration) *CaptureChecker {
	if maxStaleness <= 0 {
		maxStaleness = 10 * time.Second
	}
	return &CaptureChecker{lastRead: lastRead, maxStaleness: maxStaleness}
}

func (c *CaptureChecker) Name() string {
	return "capture"
}

func (c *CaptureChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	last := c.lastRead()
	if last.IsZero() {
		check.Status = StatusDegraded
		check.Message = "No frames captured yet"
		return check
	}

	age := time.Since(last)
	check.Details["last_frame_age"] = age.String()

	if age > c.maxStaleness {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Frames stale for %s", age.Round(time.Second))
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Frames are fresh"
	return check
}

// ActuatorChecker reports the pump interlock state
type ActuatorChecker struct {
	interlock *actuator.Interlock
}

func NewActuatorChecker(interlock *actuator.Interlock) *ActuatorChecker {
	return &ActuatorChecker{interlock: interlock}
}

func (c *ActuatorChecker) Name() string {
	return "actuator"
}

func (c *ActuatorChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	snapshot := c.interlock.Snapshot()
	check.Details["busy"] = snapshot.Busy
	if snapshot.LastOutcome != "" {
		check.Details["last_outcome"] = string(snapshot.LastOutcome)
	}

	if snapshot.LastOutcome == actuator.OutcomeFailed {
		check.Status = StatusDegraded
		check.Message = "Last drive sequence failed"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Actuator OK"
	return check
}

// InferenceChecker checks inference service connectivity
type InferenceChecker struct {
	serviceURL string
	client     *http.Client
}

func NewInferenceChecker(serviceURL string) *InferenceChecker {
	return &InferenceChecker{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

func (c *InferenceChecker) Name() string {
	return "inference_service"
}

func (c *InferenceChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.serviceURL == "" {
		// No model service configured; the heuristic strategy carries
		// detection on its own.
		check.Status = StatusHealthy
		check.Message = "Inference service not configured, heuristic fallback active"
		return check
	}

	healthURL := fmt.Sprintf("%s/health", c.serviceURL)
	req, err := http.NewRequestWithContext(ctx, "GET", healthURL, nil)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to create request: %v", err)
		return check
	}

	resp, err := c.client.Do(req)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Inference service unreachable: %v", err)
		check.Details["url"] = c.serviceURL
		return check
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Inference service returned status %d", resp.StatusCode)
		check.Details["status_code"] = resp.StatusCode
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Inference service is reachable"
	check.Details["url"] = c.serviceURL
	return check
}

// JournalChecker checks treatment journal database connectivity
type JournalChecker struct {
	dbPath string
}

func NewJournalChecker(dbPath string) *JournalChecker {
	return &JournalChecker{dbPath: dbPath}
}

func (c *JournalChecker) Name() string {
	return "journal"
}

func (c *JournalChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if c.dbPath == "" {
		check.Status = StatusHealthy
		check.Message = "Journal disabled"
		return check
	}

	if _, err := os.Stat(c.dbPath); os.IsNotExist(err) {
		check.Status = StatusHealthy
		check.Message = "Journal database will be created on first use"
		check.Details["file_exists"] = false
		return check
	}

	db, err := sql.Open("sqlite3", c.dbPath)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to open journal database: %v", err)
		return check
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Journal database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Journal database OK"
	check.Details["file_exists"] = true
	return check
}
