package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agrisense/sprayerd/internal/actuator"
	"github.com/agrisense/sprayerd/internal/capture"
	"github.com/agrisense/sprayerd/internal/classify"
	"github.com/agrisense/sprayerd/internal/config"
	"github.com/agrisense/sprayerd/internal/health"
	"github.com/agrisense/sprayerd/internal/journal"
	"github.com/agrisense/sprayerd/internal/logger"
	"github.com/agrisense/sprayerd/internal/service"
	"github.com/agrisense/sprayerd/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sprayer controller",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pump driver. The sysfs driver needs real GPIO hardware; without it
	// we fall back to the simulated driver so bench setups still run the
	// full control path.
	driver := newPumpDriver(&cfg.Pump, log)
	defer driver.Close()

	interlock := actuator.NewInterlock(driver, log)

	// Capture pipeline
	buffer := capture.NewFrameBuffer()
	source := capture.NewFFmpegSource(capture.FFmpegSourceConfig{
		Input:        cfg.Capture.Source,
		Width:        cfg.Capture.FrameWidth,
		Height:       cfg.Capture.FrameHeight,
		JPEGQuality:  cfg.Capture.JPEGQuality,
		ProbeTimeout: cfg.Capture.ProbeTimeout,
	}, log)
	captureSvc := capture.NewService(capture.ServiceConfig{
		ReadInterval: cfg.Capture.ReadInterval,
		RetryBackoff: cfg.Capture.RetryBackoff,
		MaxBackoff:   cfg.Capture.MaxBackoff,
	}, source, buffer, log)

	// Detection strategy: model-backed when the inference service answers
	// at startup, heuristic otherwise. The model strategy still degrades
	// per-call to the heuristic on failures.
	classifier := selectClassifier(ctx, &cfg.Classifier, log)
	detections := classify.NewState()

	// Treatment journal is best-effort: a broken database never blocks
	// spraying.
	var treatmentJournal *journal.Journal
	if cfg.Journal.Enabled {
		treatmentJournal, err = journal.Open(cfg.Journal.DataDir, log)
		if err != nil {
			log.Warn("Treatment journal unavailable, continuing without", "error", err)
		} else {
			defer treatmentJournal.Close()
		}
	}

	// Web control surface
	webSrv := web.NewServer(&cfg.Web, &cfg.Pump, log)
	webSrv.SetVersion(version)
	webSrv.SetDependencies(buffer, classifier, detections, interlock)
	if treatmentJournal != nil {
		webSrv.SetJournal(treatmentJournal)
	}

	// Service manager
	svcMgr := service.NewManager(log)
	svcMgr.Register(captureSvc)
	svcMgr.Register(webSrv)

	// Completed drives report back through the interlock: the finished
	// outcome goes on the event bus, and the journal row is written here
	// rather than at request time, so it reflects what the pump actually
	// did.
	eventBus := svcMgr.GetEventBus()
	interlock.SetFinishedHook(func(duration time.Duration, outcome actuator.Outcome) {
		eventBus.Publish(service.Event{
			Type:   service.EventTypeSprayFinished,
			Source: "actuator",
			Data: map[string]interface{}{
				"outcome":  string(outcome),
				"duration": duration.Seconds(),
			},
		})
		if treatmentJournal == nil {
			return
		}
		severity := "none"
		if latest, ok := detections.Latest(); ok {
			severity = latest.Severity.String()
		}
		recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer recordCancel()
		if _, err := treatmentJournal.RecordSpray(recordCtx, duration, string(outcome), severity); err != nil {
			log.Warn("Failed to journal completed spray run", "error", err)
		}
	})

	// Health check manager
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewCaptureChecker(captureSvc.LastReadAt, 10*time.Second))
	healthMgr.RegisterChecker(health.NewActuatorChecker(interlock))
	healthMgr.RegisterChecker(health.NewInferenceChecker(cfg.Classifier.ServiceURL))
	if cfg.Journal.Enabled {
		dbPath := filepath.Join(cfg.Journal.DataDir, "db", "journal.db")
		healthMgr.RegisterChecker(health.NewJournalChecker(dbPath))
	}

	if cfg.Health.Enabled {
		if err := healthMgr.Start(ctx, cfg.Health.Port); err != nil {
			log.Error("Failed to start health check server", "error", err)
			os.Exit(1)
		}
	}

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// The pump goes to its safe level before anything else is torn down;
	// only then are the capture loop and the video source released.
	interlock.ForceOff()

	if cfg.Health.Enabled {
		if err := healthMgr.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping health check server", "error", err)
		}
	}

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

// newPumpDriver builds the configured pin driver, falling back to the
// simulated driver when the hardware path is unavailable.
func newPumpDriver(cfg *config.PumpConfig, log *logger.Logger) actuator.Driver {
	if cfg.Driver == "sysfs" {
		driver, err := actuator.NewSysfsDriver(cfg.GPIOPin, cfg.ActiveHigh, log)
		if err == nil {
			return driver
		}
		log.Warn("GPIO driver unavailable, using simulated pump",
			"pin", cfg.GPIOPin,
			"error", err,
		)
	}
	return actuator.NewSimDriver(log)
}

// selectClassifier picks the detection strategy at startup. The
// inference service is probed once; if it answers, the model strategy is
// selected with the heuristic as its per-call degradation path.
func selectClassifier(ctx context.Context, cfg *config.ClassifierConfig, log *logger.Logger) classify.Classifier {
	heuristic := classify.NewHeuristicClassifier(classify.HeuristicConfig{
		HueMin:         cfg.HueMin,
		HueMax:         cfg.HueMax,
		SatMin:         cfg.SatMin,
		ValMin:         cfg.ValMin,
		LowCoverage:    cfg.LowCoverage,
		MediumCoverage: cfg.MediumCoverage,
		HighCoverage:   cfg.HighCoverage,
	})

	if cfg.ServiceURL == "" {
		log.Info("No inference service configured, using heuristic detection")
		return heuristic
	}

	crops := make(map[string]classify.CropProfile, len(cfg.Crops))
	for name, profile := range cfg.Crops {
		crops[name] = classify.CropProfile{
			Model:   profile.Model,
			Classes: profile.Classes,
		}
	}

	remote := classify.NewRemoteClassifier(classify.RemoteConfig{
		ServiceURL:        cfg.ServiceURL,
		Timeout:           cfg.Timeout,
		MediumConfidence:  cfg.MediumConfidence,
		HighConfidence:    cfg.HighConfidence,
		HealthyConfidence: cfg.HealthyConfidence,
		Crops:             crops,
	}, log)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := remote.Ping(pingCtx); err != nil {
		log.Warn("Inference service not reachable, using heuristic detection",
			"url", cfg.ServiceURL,
			"error", err,
		)
		return heuristic
	}

	log.Info("Model-backed detection selected", "url", cfg.ServiceURL)
	return classify.WithFallback(remote, heuristic, log)
}
