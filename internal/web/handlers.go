package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agrisense/sprayerd/internal/actuator"
	"github.com/agrisense/sprayerd/internal/capture"
	"github.com/agrisense/sprayerd/internal/classify"
	"github.com/agrisense/sprayerd/internal/service"
)

// handleHealth handles the liveness endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "web-server",
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	health := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		health = "unhealthy"
	}

	resp := gin.H{
		"status":         health,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	}

	if s.interlock != nil {
		resp["actuator"] = s.interlock.Snapshot()
	}
	if s.detections != nil {
		if latest, ok := s.detections.Latest(); ok {
			resp["last_detection"] = latest
		}
	}
	if s.buffer != nil {
		resp["frame_seq"] = s.buffer.Seq()
	}

	c.JSON(http.StatusOK, resp)
}

// handleFrame serves the current frame as a single JPEG
func (s *Server) handleFrame(c *gin.Context) {
	frame, err := s.buffer.Read()
	if err != nil {
		s.noFrame(c)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", frame.Data)
}

// handleStream serves an infinite MJPEG stream at the configured cadence.
// Each part is the most recent frame; if capture stalls the last frame is
// simply not replaced.
func (s *Server) handleStream(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=--frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	interval := s.config.StreamInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ticker.C:
			frame, err := s.buffer.Read()
			if err != nil {
				// Nothing captured yet; keep the connection open.
				return true
			}
			if frame.Seq == lastSeq {
				return true
			}
			lastSeq = frame.Seq

			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame.Data))
			w.Write(frame.Data)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// handleDetect runs one read-classify-record cycle on the latest frame
func (s *Server) handleDetect(c *gin.Context) {
	frame, err := s.buffer.Read()
	if err != nil {
		s.noFrame(c)
		return
	}

	opts := classify.Options{Crop: c.Query("crop")}
	result, err := classifyWith(c.Request.Context(), s.classifier, frame, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Classification failed: " + err.Error(),
		})
		return
	}

	s.detections.Record(result)
	s.PublishEvent(service.EventTypeDetection, map[string]interface{}{
		"label":    result.Label,
		"severity": result.Severity.String(),
	})

	if s.journal != nil {
		if _, err := s.journal.RecordDetection(c.Request.Context(), result); err != nil {
			s.LogWarn("Failed to journal detection", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"label":       result.Label,
		"confidence":  result.Confidence,
		"severity":    result.Severity,
		"strategy":    result.Strategy,
		"frame_seq":   result.FrameSeq,
		"may_actuate": result.Severity.Actionable(),
	})
}

// sprayRequest is the optional spray request body
type sprayRequest struct {
	Duration float64 `json:"duration"` // seconds
}

// handleSpray gates an actuation request on the latest detection and, if
// permitted, starts a drive sequence without blocking for the hold.
func (s *Server) handleSpray(c *gin.Context) {
	duration := s.pumpCfg.DefaultDuration
	if c.Request.ContentLength > 0 {
		var req sprayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
		if req.Duration > 0 {
			duration = time.Duration(req.Duration * float64(time.Second))
		}
	}
	if duration > s.pumpCfg.MaxDuration {
		duration = s.pumpCfg.MaxDuration
	}

	latest, recorded := s.detections.Latest()
	severity := "none"
	if recorded {
		severity = latest.Severity.String()
	}

	var outcome actuator.Outcome
	switch {
	case !recorded:
		outcome = actuator.OutcomeNoDetection
	case !s.detections.MayActuate():
		outcome = actuator.OutcomeNotNeeded
	default:
		outcome = s.interlock.StartDrive(duration)
	}

	eventType := service.EventTypeSprayStarted
	if outcome != actuator.OutcomeActivated {
		eventType = service.EventTypeSprayRefused
	}
	s.PublishEvent(eventType, map[string]interface{}{
		"outcome":  string(outcome),
		"duration": duration.Seconds(),
	})

	// Activated drives are journaled by the interlock's finished hook with
	// their actual outcome; only refusals are recorded here.
	if s.journal != nil && outcome != actuator.OutcomeActivated {
		if _, err := s.journal.RecordSpray(c.Request.Context(), duration, string(outcome), severity); err != nil {
			s.LogWarn("Failed to journal spray run", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome":  outcome,
		"duration": duration.Seconds(),
		"severity": severity,
	})
}

// handleActuator reports the actuator state snapshot
func (s *Server) handleActuator(c *gin.Context) {
	snapshot := s.interlock.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"busy":             snapshot.Busy,
		"last_duration":    snapshot.LastDuration.Seconds(),
		"last_outcome":     snapshot.LastOutcome,
		"last_drive_at":    snapshot.LastDriveAt,
		"default_duration": s.pumpCfg.DefaultDuration.Seconds(),
		"max_duration":     s.pumpCfg.MaxDuration.Seconds(),
	})
}

// handleJournalDetections lists recent journaled detections
func (s *Server) handleJournalDetections(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Journal not available"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.journal.RecentDetections(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"detections": records,
		"count":      len(records),
	})
}

// handleJournalSprays lists recent journaled spray runs
func (s *Server) handleJournalSprays(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Journal not available"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.journal.RecentSprays(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sprays": records,
		"count":  len(records),
	})
}

// noFrame responds with the typed not-ready condition
func (s *Server) noFrame(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":   "no_frame",
		"message": "No camera frame available yet",
	})
}

// classifyWith dispatches through the options-aware interface when the
// strategy supports it
func classifyWith(ctx context.Context, cls classify.Classifier, frame *capture.Frame, opts classify.Options) (classify.Result, error) {
	if co, ok := cls.(classify.ClassifierWithOptions); ok {
		return co.ClassifyWithOptions(ctx, frame, opts)
	}
	if opts.Crop != "" {
		return classify.Result{}, errors.New("crop profiles require the model-backed classifier")
	}
	return cls.Classify(ctx, frame)
}
