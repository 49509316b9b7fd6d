package actuator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/agrisense/sprayerd/internal/logger"
)

const gpioRoot = "/sys/class/gpio"

// SysfsDriver drives a GPIO pin through the Linux sysfs interface. A
// relay or MOSFET stage sits between the pin and the pump; active-low
// relay boards are handled by the polarity setting.
type SysfsDriver struct {
	pin        int
	activeHigh bool
	valuePath  string
	logger     *logger.Logger
}

// NewSysfsDriver exports the pin, sets it as an output and forces it to
// the inactive level before returning.
func NewSysfsDriver(pin int, activeHigh bool, log *logger.Logger) (*SysfsDriver, error) {
	d := &SysfsDriver{
		pin:        pin,
		activeHigh: activeHigh,
		valuePath:  filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin), "value"),
		logger:     log,
	}

	pinDir := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(gpioRoot, "export"), []byte(strconv.Itoa(pin)), 0o644); err != nil {
			return nil, fmt.Errorf("failed to export gpio %d: %w", pin, err)
		}
		// The kernel needs a moment to create the pin directory.
		time.Sleep(100 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to set gpio %d direction: %w", pin, err)
	}

	if err := d.SetLevel(LevelInactive); err != nil {
		return nil, fmt.Errorf("failed to initialize gpio %d to inactive: %w", pin, err)
	}

	log.Info("GPIO pin initialized", "pin", pin, "active_high", activeHigh)
	return d, nil
}

// SetLevel writes the pin value, resolving polarity
func (d *SysfsDriver) SetLevel(level Level) error {
	value := "0"
	if (level == LevelActive) == d.activeHigh {
		value = "1"
	}
	if err := os.WriteFile(d.valuePath, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to write gpio %d value: %w", d.pin, err)
	}
	return nil
}

// Close forces the pin inactive and unexports it
func (d *SysfsDriver) Close() error {
	if err := d.SetLevel(LevelInactive); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(gpioRoot, "unexport"), []byte(strconv.Itoa(d.pin)), 0o644); err != nil {
		d.logger.Warn("Failed to unexport gpio pin", "pin", d.pin, "error", err)
	}
	return nil
}
