package gpio

import (
	"fmt"
	"log/slog"

	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives Raspberry Pi pins through go-rpio.
type RPiDriver struct {
	log  *slog.Logger
	pins map[int]rpio.Pin
}

// NewRPiDriver memory-maps the GPIO registers.
// Requires /dev/gpiomem access or root.
func NewRPiDriver(log *slog.Logger) (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	log.Debug("GPIO memory mapped")
	return &RPiDriver{log: log, pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	p, ok := r.pins[pin]
	if !ok {
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

// Close returns every used pin to input, the safe state, and unmaps memory.
func (r *RPiDriver) Close() error {
	for pin, p := range r.pins {
		r.log.Debug("gpio reset to input", "pin", pin)
		p.Input()
	}
	return rpio.Close()
}
