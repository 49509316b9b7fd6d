package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/agrisense/sprayerd/internal/logger"
	"github.com/agrisense/sprayerd/internal/service"
)

// ServiceConfig configures the capture loop
type ServiceConfig struct {
	// ReadInterval is the yield between successful reads so the loop does
	// not starve other work.
	ReadInterval time.Duration
	// RetryBackoff is the initial sleep after a failed read; it doubles up
	// to MaxBackoff while the source stays broken.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Service is the free-running capture loop. It owns the video source
// exclusively and publishes every successful read into the frame buffer,
// most recent wins.
type Service struct {
	*service.ServiceBase

	cfg    ServiceConfig
	source Source
	buffer *FrameBuffer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	seq      atomic.Uint64
	lastRead atomic.Int64 // unix nano of last successful read
}

// NewService creates the capture loop service
func NewService(cfg ServiceConfig, source Source, buffer *FrameBuffer, log *logger.Logger) *Service {
	if cfg.ReadInterval <= 0 {
		cfg.ReadInterval = 50 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = 2 * time.Second
	}

	return &Service{
		ServiceBase: service.NewServiceBase("capture", log),
		cfg:         cfg,
		source:      source,
		buffer:      buffer,
		done:        make(chan struct{}),
	}
}

// Start opens the source and begins the capture loop. An open failure is
// returned so the service manager records it; the process stays alive to
// report the condition.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.source.Open(ctx); err != nil {
		close(s.done)
		return err
	}

	s.PublishEvent(service.EventTypeSourceOpened, map[string]interface{}{
		"source": s.source.Describe(),
	})

	go s.run()
	return nil
}

// Stop terminates the loop and releases the source
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Buffer returns the frame buffer the loop publishes into
func (s *Service) Buffer() *FrameBuffer {
	return s.buffer
}

// LastReadAt returns the time of the last successful read, zero if none
func (s *Service) LastReadAt() time.Time {
	ns := s.lastRead.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Service) run() {
	defer close(s.done)
	defer func() {
		if err := s.source.Close(); err != nil {
			s.LogWarn("Error releasing video source", "error", err)
		}
	}()

	s.LogInfo("Capture loop started",
		"source", s.source.Describe(),
		"read_interval", s.cfg.ReadInterval,
	)

	backoff := s.cfg.RetryBackoff
	failures := 0

	for {
		if s.ctx.Err() != nil {
			return
		}

		frame, err := s.source.ReadFrame(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			failures++
			if failures == 1 {
				s.PublishEvent(service.EventTypeSourceLost, map[string]interface{}{
					"source": s.source.Describe(),
					"error":  err.Error(),
				})
			}
			if failures == 1 || failures%20 == 0 {
				s.LogWarn("Frame read failed, backing off",
					"error", err,
					"consecutive_failures", failures,
					"backoff", backoff,
				)
			}
			if !s.sleep(backoff) {
				return
			}
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			continue
		}

		if failures > 0 {
			s.LogInfo("Frame source recovered", "after_failures", failures)
			failures = 0
			backoff = s.cfg.RetryBackoff
		}

		frame.Seq = s.seq.Add(1)
		s.buffer.Publish(frame)
		s.lastRead.Store(frame.Timestamp.UnixNano())
		s.PublishEvent(service.EventTypeFramePublished, map[string]interface{}{
			"seq": frame.Seq,
		})

		if !s.sleep(s.cfg.ReadInterval) {
			return
		}
	}
}

// sleep waits for d or until shutdown; returns false on shutdown
func (s *Service) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
