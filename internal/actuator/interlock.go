package actuator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agrisense/sprayerd/internal/logger"
)

// Outcome is the result of a spray request. Refusals are expected
// outcome values, not errors.
type Outcome string

const (
	OutcomeActivated   Outcome = "activated"
	OutcomeRefused     Outcome = "refused"
	OutcomeNotNeeded   Outcome = "not_needed"
	OutcomeNoDetection Outcome = "no_detection_yet"
	OutcomeFailed      Outcome = "failed"
)

// State is a snapshot of the actuator. busy covers the entire physical
// drive window, assert through deassert.
type State struct {
	Busy         bool          `json:"busy"`
	LastDuration time.Duration `json:"last_duration"`
	LastOutcome  Outcome       `json:"last_outcome,omitempty"`
	LastDriveAt  time.Time     `json:"last_drive_at,omitempty"`
}

// Interlock serializes pump drive sequences: at most one drive at a time,
// decided atomically, with deassertion guaranteed on every exit path. A
// stuck-on pump is the worst failure mode this component exists to
// prevent.
type Interlock struct {
	driver Driver
	logger *logger.Logger

	busy atomic.Bool

	mu           sync.Mutex
	stopped      bool
	lastDuration time.Duration
	lastOutcome  Outcome
	lastDriveAt  time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// onFinished, when set, observes completed drive sequences.
	onFinished func(duration time.Duration, outcome Outcome)
}

// NewInterlock creates an interlock in the idle state
func NewInterlock(driver Driver, log *logger.Logger) *Interlock {
	return &Interlock{
		driver: driver,
		logger: log,
		stop:   make(chan struct{}),
	}
}

// SetFinishedHook registers a callback invoked after each completed drive
// sequence, outside any lock. Must be called before the first drive.
func (i *Interlock) SetFinishedHook(hook func(duration time.Duration, outcome Outcome)) {
	i.onFinished = hook
}

// StartDrive begins a drive sequence on a background goroutine and
// returns immediately. If a drive is already in progress, or ForceOff
// has already put the actuator at its safe level, the call is refused,
// not queued. The shutdown check, the busy transition and the
// goroutine registration happen under one lock, so no drive can slip
// in behind ForceOff and re-assert the pin.
func (i *Interlock) StartDrive(duration time.Duration) Outcome {
	i.mu.Lock()
	if i.stopped {
		i.lastOutcome = OutcomeRefused
		i.mu.Unlock()
		i.logger.Warn("Spray refused, actuator is shut down")
		return OutcomeRefused
	}
	if !i.busy.CompareAndSwap(false, true) {
		i.lastOutcome = OutcomeRefused
		i.mu.Unlock()
		i.logger.Warn("Spray refused, drive already in progress")
		return OutcomeRefused
	}
	i.wg.Add(1)
	i.mu.Unlock()

	go i.drive(duration)
	return OutcomeActivated
}

// drive runs the assert-hold-deassert cycle. It is detached from any
// request context: the originating caller may be long gone, the
// deassertion still happens.
func (i *Interlock) drive(duration time.Duration) {
	defer i.wg.Done()

	outcome := OutcomeActivated
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			i.logger.Error("Panic during drive sequence", "panic", r)
		}
		// Deassert unconditionally, whatever ended the hold.
		if err := i.driver.SetLevel(LevelInactive); err != nil {
			outcome = OutcomeFailed
			i.logger.Error("Failed to deassert pump pin", "error", err)
		}
		i.record(duration, outcome)
		i.busy.Store(false)
		i.logger.Info("Drive sequence finished",
			"outcome", string(outcome),
			"held", time.Since(start),
		)
		if i.onFinished != nil {
			i.onFinished(duration, outcome)
		}
	}()

	if err := i.driver.SetLevel(LevelActive); err != nil {
		outcome = OutcomeFailed
		i.logger.Error("Failed to assert pump pin", "error", err)
		return
	}

	i.logger.Info("Pump asserted", "duration", duration)

	// The hold is a hard, uninterruptible wait by design; only process
	// shutdown cuts it short, and the deferred deassert still runs.
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-i.stop:
		i.logger.Warn("Drive hold cut short by shutdown")
	}
}

// Busy reports whether a drive sequence is in progress
func (i *Interlock) Busy() bool {
	return i.busy.Load()
}

// Snapshot returns the current actuator state
func (i *Interlock) Snapshot() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return State{
		Busy:         i.busy.Load(),
		LastDuration: i.lastDuration,
		LastOutcome:  i.lastOutcome,
		LastDriveAt:  i.lastDriveAt,
	}
}

// ForceOff drives the actuator to its safe level and waits for any
// in-flight sequence to finish deasserting. Called at shutdown; every
// later StartDrive is refused, so the safe level written here is
// final.
func (i *Interlock) ForceOff() {
	i.mu.Lock()
	i.stopped = true
	i.mu.Unlock()
	i.stopOnce.Do(func() {
		close(i.stop)
	})
	i.wg.Wait()
	if err := i.driver.SetLevel(LevelInactive); err != nil {
		i.logger.Error("Failed to force pump off at shutdown", "error", err)
	} else {
		i.logger.Info("Pump forced to safe level")
	}
}

func (i *Interlock) record(duration time.Duration, outcome Outcome) {
	i.mu.Lock()
	i.lastDuration = duration
	i.lastOutcome = outcome
	i.lastDriveAt = time.Now()
	i.mu.Unlock()
}
