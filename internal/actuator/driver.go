package actuator

// Level is the logical actuator output level. Polarity is resolved by the
// driver from configuration; raw electrical high/low never leaks into the
// interlock.
type Level int

const (
	LevelInactive Level = iota
	LevelActive
)

// String returns the level name
func (l Level) String() string {
	if l == LevelActive {
		return "active"
	}
	return "inactive"
}

// Driver is the pin-driver collaborator. The interlock is its only
// writer, including at shutdown.
type Driver interface {
	SetLevel(level Level) error
	Close() error
}
