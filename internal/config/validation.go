package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values the runtime cannot work with
func (c *Config) Validate() error {
	if c.Capture.FrameWidth <= 0 || c.Capture.FrameHeight <= 0 {
		return fmt.Errorf("invalid frame dimensions: %dx%d", c.Capture.FrameWidth, c.Capture.FrameHeight)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d (must be 1-100)", c.Capture.JPEGQuality)
	}
	if c.Capture.RetryBackoff > c.Capture.MaxBackoff {
		return fmt.Errorf("retry_backoff %s exceeds max_backoff %s", c.Capture.RetryBackoff, c.Capture.MaxBackoff)
	}

	switch c.Pump.Driver {
	case "sysfs", "sim":
	default:
		return fmt.Errorf("unknown pump driver: %q (expected sysfs or sim)", c.Pump.Driver)
	}
	if c.Pump.GPIOPin < 0 {
		return fmt.Errorf("invalid gpio pin: %d", c.Pump.GPIOPin)
	}
	if c.Pump.DefaultDuration <= 0 {
		return fmt.Errorf("default_duration must be positive, got %s", c.Pump.DefaultDuration)
	}
	if c.Pump.DefaultDuration > c.Pump.MaxDuration {
		return fmt.Errorf("default_duration %s exceeds max_duration %s", c.Pump.DefaultDuration, c.Pump.MaxDuration)
	}

	if c.Classifier.MediumConfidence >= c.Classifier.HighConfidence {
		return fmt.Errorf("medium_confidence %.2f must be below high_confidence %.2f",
			c.Classifier.MediumConfidence, c.Classifier.HighConfidence)
	}
	if c.Classifier.LowCoverage >= c.Classifier.MediumCoverage ||
		c.Classifier.MediumCoverage >= c.Classifier.HighCoverage {
		return fmt.Errorf("coverage breakpoints must be strictly increasing: %.4f, %.4f, %.4f",
			c.Classifier.LowCoverage, c.Classifier.MediumCoverage, c.Classifier.HighCoverage)
	}
	if c.Classifier.HueMin >= c.Classifier.HueMax {
		return fmt.Errorf("hue band is empty: [%.1f, %.1f]", c.Classifier.HueMin, c.Classifier.HueMax)
	}
	if c.Classifier.ServiceURL != "" && !strings.HasPrefix(c.Classifier.ServiceURL, "http") {
		return fmt.Errorf("service_url must be an http(s) URL, got %q", c.Classifier.ServiceURL)
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", c.Health.Port)
	}
	if c.Web.Enabled && c.Health.Enabled && c.Web.Port == c.Health.Port {
		return fmt.Errorf("web and health servers cannot share port %d", c.Web.Port)
	}

	return nil
}
