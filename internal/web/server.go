package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agrisense/sprayerd/internal/actuator"
	"github.com/agrisense/sprayerd/internal/capture"
	"github.com/agrisense/sprayerd/internal/classify"
	"github.com/agrisense/sprayerd/internal/config"
	"github.com/agrisense/sprayerd/internal/journal"
	"github.com/agrisense/sprayerd/internal/logger"
	"github.com/agrisense/sprayerd/internal/service"
)

//go:embed static/*
var staticFiles embed.FS

var staticContentFS fs.FS

func init() {
	var err error
	staticContentFS, err = fs.Sub(staticFiles, "static")
	if err != nil {
		staticContentFS = staticFiles
	}
}

// Server is the control surface: stream, detect and spray handlers over
// the capture buffer, classifier, detection state and interlock.
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	pumpCfg    *config.PumpConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine

	buffer     *capture.FrameBuffer
	classifier classify.Classifier
	detections *classify.State
	interlock  *actuator.Interlock
	journal    *journal.Journal // optional

	version   string
	startTime time.Time
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, pumpCfg *config.PumpConfig, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		pumpCfg:     pumpCfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version reported by /api/status
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies wires the core components into the handlers
func (s *Server) SetDependencies(
	buffer *capture.FrameBuffer,
	classifier classify.Classifier,
	detections *classify.State,
	interlock *actuator.Interlock,
) {
	s.buffer = buffer
	s.classifier = classifier
	s.detections = detections
	s.interlock = interlock
}

// SetJournal wires the optional treatment journal
func (s *Server) SetJournal(j *journal.Journal) {
	s.journal = j
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	s.setupRoutes()

	// WriteTimeout and IdleTimeout stay disabled: the MJPEG stream is a
	// deliberately infinite response.
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		s.LogInfo("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.GetStatus().SetStatus(service.StatusRunning)
		s.LogInfo("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	err := s.httpServer.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		api.GET("/stream", s.handleStream)
		api.GET("/frame", s.handleFrame)

		api.POST("/detect", s.handleDetect)
		api.POST("/spray", s.handleSpray)
		api.GET("/actuator", s.handleActuator)

		journalGroup := api.Group("/journal")
		{
			journalGroup.GET("/detections", s.handleJournalDetections)
			journalGroup.GET("/sprays", s.handleJournalSprays)
		}
	}

	s.router.StaticFS("/static", http.FS(staticContentFS))
	s.router.GET("/", func(c *gin.Context) {
		content, err := fs.ReadFile(staticContentFS, "index.html")
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "UI not available"})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", content)
	})
}

// ginLogger creates a gin middleware for logging HTTP requests
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows the UI to be served from another origin
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
