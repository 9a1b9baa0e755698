// Package indicator drives an optional busy LED while the camera is held.
package indicator

import (
	"context"
	"errors"

	"github.com/cjeanneret/picapture/internal/hw/camera"
	"github.com/cjeanneret/picapture/internal/hw/gpio"
)

// LED is an active-high LED on one GPIO pin. A nil *LED is valid and does nothing.
type LED struct {
	gpio gpio.Driver
	pin  int
}

// NewLED configures pin as an output and switches it off.
// It returns nil when pin is 0 (no LED wired).
func NewLED(g gpio.Driver, pin int) (*LED, error) {
	if pin <= 0 || g == nil {
		return nil, nil
	}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, err
	}
	return &LED{gpio: g, pin: pin}, nil
}

func (l *LED) On() error {
	if l == nil {
		return nil
	}
	return l.gpio.WritePin(l.pin, gpio.High)
}

func (l *LED) Off() error {
	if l == nil {
		return nil
	}
	return l.gpio.WritePin(l.pin, gpio.Low)
}

// busyCamera lights the LED between Start and Stop.
type busyCamera struct {
	camera.Camera
	led *LED
}

// Wrap returns cam unchanged when led is nil.
func Wrap(cam camera.Camera, led *LED) camera.Camera {
	if led == nil {
		return cam
	}
	return &busyCamera{Camera: cam, led: led}
}

func (b *busyCamera) Start(ctx context.Context) error {
	if err := b.Camera.Start(ctx); err != nil {
		return err
	}
	// LED failures never fail the capture.
	_ = b.led.On()
	return nil
}

func (b *busyCamera) Stop() error {
	err := b.Camera.Stop()
	return errors.Join(err, b.led.Off())
}
