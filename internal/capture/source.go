package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/agrisense/sprayerd/internal/logger"
)

// Source abstracts the video device. The capture service is its only
// consumer; nothing else reads from the device directly.
type Source interface {
	// Open prepares the source. An error here is the fatal-at-startup
	// condition: the service stays up to report it but cannot capture.
	Open(ctx context.Context) error
	// ReadFrame returns one encoded frame. Errors are transient; the
	// caller retries with backoff.
	ReadFrame(ctx context.Context) (*Frame, error)
	// Close releases the device.
	Close() error
	// Describe returns a human-readable source identity for logs.
	Describe() string
}

// FFmpegSourceConfig configures an ffmpeg-backed source
type FFmpegSourceConfig struct {
	// Input is a v4l2 device path, a bare device index, or an rtsp:// URL.
	Input        string
	Width        int
	Height       int
	JPEGQuality  int
	ProbeTimeout time.Duration
}

// FFmpegSource captures frames by shelling out to ffmpeg, one still per
// read. It avoids an in-process codec dependency; decoded dimensions are
// validated with the stdlib image package.
type FFmpegSource struct {
	cfg        FFmpegSourceConfig
	logger     *logger.Logger
	ffmpegPath string
	input      string
	isRTSP     bool
	opened     bool
}

// NewFFmpegSource creates a new ffmpeg-backed source
func NewFFmpegSource(cfg FFmpegSourceConfig, log *logger.Logger) *FFmpegSource {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	input := cfg.Input
	// A bare index means the corresponding v4l2 device.
	if _, err := strconv.Atoi(input); err == nil {
		input = "/dev/video" + input
	}
	return &FFmpegSource{
		cfg:    cfg,
		logger: log,
		input:  input,
		isRTSP: strings.HasPrefix(cfg.Input, "rtsp://"),
	}
}

// Open locates ffmpeg and verifies the source is reachable
func (s *FFmpegSource) Open(ctx context.Context) error {
	path, err := detectFFmpeg()
	if err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	s.ffmpegPath = path

	if s.isRTSP {
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout())
		defer cancel()
		if err := probeRTSP(probeCtx, s.cfg.Input); err != nil {
			return fmt.Errorf("rtsp source unreachable: %w", err)
		}
	} else {
		// Grab one frame to confirm the device exists and delivers video.
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout())
		defer cancel()
		if _, err := s.ReadFrame(probeCtx); err != nil {
			return fmt.Errorf("video device %s not usable: %w", s.input, err)
		}
	}

	s.opened = true
	s.logger.Info("Video source opened", "input", s.input, "rtsp", s.isRTSP)
	return nil
}

// ReadFrame captures a single JPEG frame from the source
func (s *FFmpegSource) ReadFrame(ctx context.Context) (*Frame, error) {
	args := s.buildArgs()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg capture failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("no frame data captured from %s", s.input)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid frame data: %w", err)
	}

	return &Frame{
		Data:      data,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Timestamp: time.Now(),
	}, nil
}

// Close releases the source. The ffmpeg process is per-read, so there is
// no persistent handle beyond the opened flag.
func (s *FFmpegSource) Close() error {
	s.opened = false
	s.logger.Info("Video source released", "input", s.input)
	return nil
}

// Describe returns the source identity
func (s *FFmpegSource) Describe() string {
	return s.input
}

func (s *FFmpegSource) probeTimeout() time.Duration {
	if s.cfg.ProbeTimeout > 0 {
		return s.cfg.ProbeTimeout
	}
	return 5 * time.Second
}

func (s *FFmpegSource) buildArgs() []string {
	size := fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height)

	if s.isRTSP {
		return []string{
			"-hide_banner",
			"-loglevel", "error",
			"-rtsp_transport", "tcp",
			"-i", s.cfg.Input,
			"-frames:v", "1",
			"-s", size,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", strconv.Itoa(jpegQScale(s.cfg.JPEGQuality)),
			"-",
		}
	}

	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", size,
		"-i", s.input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(jpegQScale(s.cfg.JPEGQuality)),
		"-",
	}
}

// jpegQScale maps a 1-100 quality to ffmpeg's inverted 2-31 q:v scale
func jpegQScale(quality int) int {
	q := 31 - quality*29/100
	if q < 2 {
		q = 2
	}
	if q > 31 {
		q = 31
	}
	return q
}

// detectFFmpeg finds the ffmpeg executable
func detectFFmpeg() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}

	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}
