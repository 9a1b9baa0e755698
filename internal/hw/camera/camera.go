package camera

import (
	"context"
	"errors"
	"fmt"
)

// Resolution is an image size in pixels.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// StillResolution is the full-sensor still size of the Pi camera module v2.
var StillResolution = Resolution{Width: 3280, Height: 2464}

// Camera is the still-capture interface used by the capture workflow.
// Implementations hold the device exclusively between Start and Stop.
type Camera interface {
	// Configure selects the still-capture resolution. Must precede Start.
	Configure(res Resolution) error
	// Start opens the stream.
	Start(ctx context.Context) error
	// CaptureTo writes one frame to path and returns once the file is complete.
	CaptureTo(ctx context.Context, path string) error
	// Stop closes the stream. Calling Stop on a stopped camera is a no-op.
	Stop() error
}

var (
	ErrNotConfigured  = errors.New("camera: not configured")
	ErrNotStarted     = errors.New("camera: not started")
	ErrAlreadyStarted = errors.New("camera: already started")
)
