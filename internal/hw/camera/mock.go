package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
)

// Mock writes a synthetic PNG of the configured size instead of talking to
// hardware. Used with camera.type "mock" for development off the Pi.
type Mock struct {
	res     Resolution
	started bool
	encode  func(io.Writer, image.Image) error
}

func NewMock() *Mock {
	return &Mock{encode: png.Encode}
}

func (m *Mock) Configure(res Resolution) error {
	if m.started {
		return ErrAlreadyStarted
	}
	if res.Width <= 0 || res.Height <= 0 {
		return fmt.Errorf("camera: invalid resolution %s", res)
	}
	m.res = res
	return nil
}

func (m *Mock) Start(context.Context) error {
	if m.res == (Resolution{}) {
		return ErrNotConfigured
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	return nil
}

func (m *Mock) CaptureTo(_ context.Context, path string) error {
	if !m.started {
		return ErrNotStarted
	}
	img := image.NewGray(image.Rect(0, 0, m.res.Width, m.res.Height))
	// Horizontal gradient so the frame is not a single flat color.
	for x := 0; x < m.res.Width; x++ {
		img.SetGray(x, 0, color.Gray{Y: uint8(x * 255 / m.res.Width)})
	}
	for y := 1; y < m.res.Height; y++ {
		copy(img.Pix[y*img.Stride:(y+1)*img.Stride], img.Pix[:img.Stride])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("camera: create %s: %w", path, err)
	}
	if err := m.encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("camera: encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("camera: close %s: %w", path, err)
	}
	return nil
}

func (m *Mock) Stop() error {
	m.started = false
	return nil
}
