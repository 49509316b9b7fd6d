package actuator

import (
	"sync"

	"github.com/agrisense/sprayerd/internal/logger"
)

// SimDriver simulates the pump pin for development machines without GPIO
// hardware. Level transitions are logged and remembered.
type SimDriver struct {
	logger *logger.Logger
	mu     sync.Mutex
	level  Level
}

// NewSimDriver creates a simulated driver starting inactive
func NewSimDriver(log *logger.Logger) *SimDriver {
	log.Info("Pump driver running in simulation mode")
	return &SimDriver{logger: log}
}

// SetLevel records and logs the level transition
func (d *SimDriver) SetLevel(level Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.level != level {
		d.logger.Info("Simulated pump level change", "level", level.String())
	}
	d.level = level
	return nil
}

// Level returns the current simulated level
func (d *SimDriver) Level() Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// Close forces the simulated pin inactive
func (d *SimDriver) Close() error {
	return d.SetLevel(LevelInactive)
}
