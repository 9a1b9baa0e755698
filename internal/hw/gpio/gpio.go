package gpio

import "log/slog"

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver is the GPIO surface used by the busy indicator.
// A real Raspberry Pi implementation or a mock can be plugged in.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	Close() error
}

// NewDriver returns a MockDriver when mock is true, otherwise the go-rpio driver.
func NewDriver(mock bool, log *slog.Logger) (Driver, error) {
	if log == nil {
		log = slog.Default()
	}
	if mock {
		log.Debug("Using mock GPIO driver")
		return NewMockDriver(log), nil
	}
	return NewRPiDriver(log)
}

// MockDriver logs pin operations instead of touching hardware.
type MockDriver struct {
	log *slog.Logger
}

func NewMockDriver(log *slog.Logger) *MockDriver {
	if log == nil {
		log = slog.Default()
	}
	return &MockDriver{log: log}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	m.log.Debug("gpio setup", "pin", pin, "mode", mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	m.log.Debug("gpio write", "pin", pin, "level", level.String())
	return nil
}

func (m *MockDriver) Close() error {
	m.log.Debug("gpio close (mock)")
	return nil
}
