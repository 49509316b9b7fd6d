package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration. It is read once at
// startup and never mutated afterwards.
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Pump       PumpConfig       `yaml:"pump"`
	Journal    JournalConfig    `yaml:"journal"`
	Web        WebConfig        `yaml:"web"`
	Health     HealthConfig     `yaml:"health"`
	Log        LogConfig        `yaml:"log,omitempty"`
}

// CaptureConfig contains video source configuration
type CaptureConfig struct {
	// Source is either a v4l2 device path ("/dev/video0"), a bare device
	// index ("0"), or an rtsp:// URL.
	Source       string        `yaml:"source"`
	FrameWidth   int           `yaml:"frame_width"`
	FrameHeight  int           `yaml:"frame_height"`
	JPEGQuality  int           `yaml:"jpeg_quality"`
	ReadInterval time.Duration `yaml:"read_interval"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// ClassifierConfig contains detection strategy configuration.
// Threshold values default to the ones the field trials used; they are
// policy parameters, not contracts.
type ClassifierConfig struct {
	// ServiceURL points at the HTTP inference service. Empty disables the
	// model-backed strategy and the heuristic runs alone.
	ServiceURL string        `yaml:"service_url"`
	Timeout    time.Duration `yaml:"timeout"`

	// Model-confidence severity cutoffs.
	MediumConfidence  float64 `yaml:"medium_confidence"`
	HighConfidence    float64 `yaml:"high_confidence"`
	HealthyConfidence float64 `yaml:"healthy_confidence"`

	// Heuristic hue/saturation/value band (degrees and [0,1] fractions)
	// covering necrotic and chlorotic leaf tissue.
	HueMin float64 `yaml:"hue_min"`
	HueMax float64 `yaml:"hue_max"`
	SatMin float64 `yaml:"sat_min"`
	ValMin float64 `yaml:"val_min"`

	// Heuristic coverage breakpoints (fraction of frame pixels in band).
	LowCoverage    float64 `yaml:"low_coverage"`
	MediumCoverage float64 `yaml:"medium_coverage"`
	HighCoverage   float64 `yaml:"high_coverage"`

	// Crops maps crop names to the class lists their models emit. Optional;
	// forwarded to the inference service when a detect request names a crop.
	Crops map[string]CropProfile `yaml:"crops,omitempty"`
}

// CropProfile describes a per-crop model
type CropProfile struct {
	Model   string   `yaml:"model"`
	Classes []string `yaml:"classes"`
}

// PumpConfig contains actuator configuration
type PumpConfig struct {
	// Driver selects the pin driver: "sysfs" or "sim".
	Driver          string        `yaml:"driver"`
	GPIOPin         int           `yaml:"gpio_pin"`
	ActiveHigh      bool          `yaml:"active_high"`
	DefaultDuration time.Duration `yaml:"default_duration"`
	MaxDuration     time.Duration `yaml:"max_duration"`
}

// JournalConfig contains treatment journal configuration
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DataDir string `yaml:"data_dir"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	StreamInterval time.Duration `yaml:"stream_interval"`
}

// HealthConfig contains health check server configuration
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. A .env file next to the
// working directory is loaded first so deployments can override the pin
// and source without editing YAML.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/sprayerd/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Capture.Source == "" {
		c.Capture.Source = "/dev/video0"
	}
	if c.Capture.FrameWidth == 0 {
		c.Capture.FrameWidth = 640
	}
	if c.Capture.FrameHeight == 0 {
		c.Capture.FrameHeight = 480
	}
	if c.Capture.JPEGQuality == 0 {
		c.Capture.JPEGQuality = 85
	}
	if c.Capture.ReadInterval == 0 {
		c.Capture.ReadInterval = 50 * time.Millisecond
	}
	if c.Capture.RetryBackoff == 0 {
		c.Capture.RetryBackoff = 100 * time.Millisecond
	}
	if c.Capture.MaxBackoff == 0 {
		c.Capture.MaxBackoff = 2 * time.Second
	}
	if c.Capture.ProbeTimeout == 0 {
		c.Capture.ProbeTimeout = 5 * time.Second
	}

	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 15 * time.Second
	}
	if c.Classifier.MediumConfidence == 0 {
		c.Classifier.MediumConfidence = 0.5
	}
	if c.Classifier.HighConfidence == 0 {
		c.Classifier.HighConfidence = 0.8
	}
	if c.Classifier.HealthyConfidence == 0 {
		c.Classifier.HealthyConfidence = 0.6
	}
	if c.Classifier.HueMin == 0 {
		c.Classifier.HueMin = 10
	}
	if c.Classifier.HueMax == 0 {
		c.Classifier.HueMax = 60
	}
	if c.Classifier.SatMin == 0 {
		c.Classifier.SatMin = 0.2
	}
	if c.Classifier.ValMin == 0 {
		c.Classifier.ValMin = 0.2
	}
	if c.Classifier.LowCoverage == 0 {
		c.Classifier.LowCoverage = 0.003
	}
	if c.Classifier.MediumCoverage == 0 {
		c.Classifier.MediumCoverage = 0.02
	}
	if c.Classifier.HighCoverage == 0 {
		c.Classifier.HighCoverage = 0.08
	}

	if c.Pump.Driver == "" {
		c.Pump.Driver = "sim"
	}
	if c.Pump.GPIOPin == 0 {
		c.Pump.GPIOPin = 18
	}
	if c.Pump.DefaultDuration == 0 {
		c.Pump.DefaultDuration = 5 * time.Second
	}
	if c.Pump.MaxDuration == 0 {
		c.Pump.MaxDuration = 30 * time.Second
	}

	if c.Journal.DataDir == "" {
		c.Journal.DataDir = "./data"
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8090
	}
	if c.Web.StreamInterval == 0 {
		c.Web.StreamInterval = 100 * time.Millisecond
	}

	if c.Health.Port == 0 {
		c.Health.Port = 8091
	}
}

// applyEnvOverrides lets deployment-specific settings come from the
// environment without touching the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SPRAYERD_CAPTURE_SOURCE"); v != "" {
		c.Capture.Source = v
	}
	if v := os.Getenv("SPRAYERD_PUMP_DRIVER"); v != "" {
		c.Pump.Driver = v
	}
	if v := os.Getenv("SPRAYERD_PUMP_PIN"); v != "" {
		if pin, err := strconv.Atoi(v); err == nil {
			c.Pump.GPIOPin = pin
		}
	}
	if v := os.Getenv("SPRAYERD_INFERENCE_URL"); v != "" {
		c.Classifier.ServiceURL = v
	}
	if v := os.Getenv("SPRAYERD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}
