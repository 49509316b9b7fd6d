package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisense/sprayerd/internal/actuator"
	"github.com/agrisense/sprayerd/internal/capture"
	"github.com/agrisense/sprayerd/internal/classify"
	"github.com/agrisense/sprayerd/internal/config"
	"github.com/agrisense/sprayerd/internal/journal"
	"github.com/agrisense/sprayerd/internal/logger"
	"github.com/agrisense/sprayerd/internal/service"
)

// stubClassifier returns a fixed result
type stubClassifier struct {
	result classify.Result
	err    error
}

func (s *stubClassifier) Name() string {
	return "stub"
}

func (s *stubClassifier) Classify(ctx context.Context, frame *capture.Frame) (classify.Result, error) {
	if s.err != nil {
		return classify.Result{}, s.err
	}
	result := s.result
	result.FrameSeq = frame.Seq
	return result, nil
}

type testServer struct {
	server     *Server
	buffer     *capture.FrameBuffer
	classifier *stubClassifier
	detections *classify.State
	interlock  *actuator.Interlock
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logger.NewNopLogger()

	webCfg := &config.WebConfig{
		Enabled:        true,
		Host:           "localhost",
		Port:           8090,
		StreamInterval: 10 * time.Millisecond,
	}
	pumpCfg := &config.PumpConfig{
		Driver:          "sim",
		GPIOPin:         18,
		DefaultDuration: 20 * time.Millisecond,
		MaxDuration:     50 * time.Millisecond,
	}

	buffer := capture.NewFrameBuffer()
	cls := &stubClassifier{}
	detections := classify.NewState()
	interlock := actuator.NewInterlock(actuator.NewSimDriver(log), log)

	server := NewServer(webCfg, pumpCfg, log)
	server.SetDependencies(buffer, cls, detections, interlock)
	server.setupRoutes()

	return &testServer{
		server:     server,
		buffer:     buffer,
		classifier: cls,
		detections: detections,
		interlock:  interlock,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func publishTestFrame(ts *testServer, seq uint64) {
	ts.buffer.Publish(&capture.Frame{
		Data:      []byte{0xFF, 0xD8, 0xFF, 0xE0},
		Width:     640,
		Height:    480,
		Seq:       seq,
		Timestamp: time.Now(),
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleFrame_NoFrame(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "GET", "/api/frame", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "no_frame", resp["error"])
}

func TestHandleFrame_ServesJPEG(t *testing.T) {
	ts := setupTestServer(t)
	publishTestFrame(ts, 1)

	w := ts.request(t, "GET", "/api/frame", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE0}, w.Body.Bytes())
}

func TestHandleDetect_NoFrame(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "POST", "/api/detect", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "no_frame", resp["error"])
}

func TestHandleDetect_RecordsResult(t *testing.T) {
	ts := setupTestServer(t)
	publishTestFrame(ts, 9)
	ts.classifier.result = classify.Result{
		Label:      "Severe Infection",
		Confidence: 0.93,
		Severity:   classify.SeverityHigh,
		Strategy:   "stub",
	}

	w := ts.request(t, "POST", "/api/detect", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "Severe Infection", resp["label"])
	assert.Equal(t, "high", resp["severity"])
	assert.Equal(t, true, resp["may_actuate"])
	assert.Equal(t, float64(9), resp["frame_seq"])

	latest, ok := ts.detections.Latest()
	require.True(t, ok, "detection must be recorded in state")
	assert.Equal(t, "Severe Infection", latest.Label)
	assert.True(t, ts.detections.MayActuate())
}

func TestHandleDetect_HealthyResult(t *testing.T) {
	ts := setupTestServer(t)
	publishTestFrame(ts, 1)
	ts.classifier.result = classify.Result{
		Label:      "Healthy",
		Confidence: 0.99,
		Severity:   classify.SeverityNone,
		Strategy:   "stub",
	}

	w := ts.request(t, "POST", "/api/detect", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, false, resp["may_actuate"])
	assert.False(t, ts.detections.MayActuate())
}

func TestHandleSpray_NoDetectionYet(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "POST", "/api/spray", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "no_detection_yet", resp["outcome"])
	assert.False(t, ts.interlock.Busy())
}

func TestHandleSpray_NotNeeded(t *testing.T) {
	ts := setupTestServer(t)
	ts.detections.Record(classify.Result{
		Label:    "Possible Leaf Spot",
		Severity: classify.SeverityLow,
	})

	w := ts.request(t, "POST", "/api/spray", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "not_needed", resp["outcome"])
	assert.Equal(t, "low", resp["severity"])
	assert.False(t, ts.interlock.Busy())
}

func TestHandleSpray_Activates(t *testing.T) {
	ts := setupTestServer(t)
	ts.detections.Record(classify.Result{
		Label:    "Severe Infection",
		Severity: classify.SeverityHigh,
	})

	w := ts.request(t, "POST", "/api/spray", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "activated", resp["outcome"])
	assert.Equal(t, "high", resp["severity"])

	// Default duration applies when the body is empty.
	assert.InDelta(t, 0.02, resp["duration"], 0.001)

	waitInterlockIdle(t, ts.interlock)
}

func TestHandleSpray_ClampsDuration(t *testing.T) {
	ts := setupTestServer(t)
	ts.detections.Record(classify.Result{Severity: classify.SeverityHigh})

	w := ts.request(t, "POST", "/api/spray", map[string]interface{}{"duration": 3600})
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "activated", resp["outcome"])
	assert.InDelta(t, 0.05, resp["duration"], 0.001, "duration clamps to the maximum")

	waitInterlockIdle(t, ts.interlock)
}

func TestHandleSpray_RefusedWhileBusy(t *testing.T) {
	ts := setupTestServer(t)
	ts.detections.Record(classify.Result{Severity: classify.SeverityHigh})

	first := ts.request(t, "POST", "/api/spray", map[string]interface{}{"duration": 0.05})
	assert.Equal(t, "activated", decodeJSON(t, first)["outcome"])

	second := ts.request(t, "POST", "/api/spray", nil)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "refused", decodeJSON(t, second)["outcome"])

	waitInterlockIdle(t, ts.interlock)
}

func TestHandleSpray_InvalidBody(t *testing.T) {
	ts := setupTestServer(t)

	req := httptest.NewRequest("POST", "/api/spray", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleActuator(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "GET", "/api/actuator", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, false, resp["busy"])
	assert.InDelta(t, 0.02, resp["default_duration"], 0.001)
	assert.InDelta(t, 0.05, resp["max_duration"], 0.001)
}

func TestHandleStatus(t *testing.T) {
	ts := setupTestServer(t)
	publishTestFrame(ts, 4)

	w := ts.request(t, "GET", "/api/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, "unhealthy", resp["status"], "server has not been started")
	assert.Contains(t, resp, "uptime")
	assert.Contains(t, resp, "actuator")
	assert.Equal(t, float64(4), resp["frame_seq"])

	ts.server.GetStatus().SetStatus(service.StatusRunning)

	resp = decodeJSON(t, ts.request(t, "GET", "/api/status", nil))
	assert.Equal(t, "healthy", resp["status"])
}

func TestServer_StartStopTracksStatus(t *testing.T) {
	log := logger.NewNopLogger()
	webCfg := &config.WebConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
	}
	pumpCfg := &config.PumpConfig{
		DefaultDuration: 20 * time.Millisecond,
		MaxDuration:     50 * time.Millisecond,
	}

	srv := NewServer(webCfg, pumpCfg, log)
	srv.SetDependencies(
		capture.NewFrameBuffer(),
		&stubClassifier{},
		classify.NewState(),
		actuator.NewInterlock(actuator.NewSimDriver(log), log),
	)

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, service.StatusRunning, srv.GetStatus().GetStatus())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.Equal(t, service.StatusStopped, srv.GetStatus().GetStatus())
}

func TestHandleSpray_ActivatedNotJournaledAtRequest(t *testing.T) {
	ts := setupTestServer(t)

	j, err := journal.Open(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	defer j.Close()
	ts.server.SetJournal(j)

	ts.detections.Record(classify.Result{Severity: classify.SeverityHigh})

	w := ts.request(t, "POST", "/api/spray", nil)
	assert.Equal(t, "activated", decodeJSON(t, w)["outcome"])
	waitInterlockIdle(t, ts.interlock)

	// The accepted drive is recorded by the interlock's finished hook
	// with its real outcome, not optimistically here.
	rows, err := j.RecentSprays(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	ts.detections.Record(classify.Result{Severity: classify.SeverityLow})
	w = ts.request(t, "POST", "/api/spray", nil)
	assert.Equal(t, "not_needed", decodeJSON(t, w)["outcome"])

	rows, err = j.RecentSprays(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "not_needed", rows[0].Outcome)
}

func TestHandleJournal_Unavailable(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.request(t, "GET", "/api/journal/detections", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = ts.request(t, "GET", "/api/journal/sprays", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func waitInterlockIdle(t *testing.T, i *actuator.Interlock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !i.Busy() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Interlock never returned to idle")
}
