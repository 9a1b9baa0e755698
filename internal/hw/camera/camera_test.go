package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeRPiCamScript mimics rpicam-still in --signal mode: it records its
// arguments once its signal handlers are installed, writes a PNG header to the
// -o path on SIGUSR1 and exits without output on SIGUSR2.
const fakeRPiCamScript = `#!/bin/sh
marker='%s'
out=""
args="$*"
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
trap 'printf "\\211PNG\\r\\n\\032\\n" > "$out"; exit 0' USR1
trap 'echo stopped > "$marker.stop"; exit 0' USR2
echo "$args" > "$marker.tmp" && mv "$marker.tmp" "$marker"
while :; do sleep 0.05; done
`

const failingRPiCamScript = `#!/bin/sh
echo "ERROR: no cameras available" >&2
exit 255
`

func writeScript(t *testing.T, content string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell and signals")
	}
	bin := filepath.Join(t.TempDir(), "rpicam-still")
	if err := os.WriteFile(bin, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin
}

// newFakeRPiCam returns a camera driving the fake binary and the path of the
// marker file the binary writes once it is running.
func newFakeRPiCam(t *testing.T) (*RPiCam, string) {
	t.Helper()
	marker := filepath.Join(t.TempDir(), "launched")
	bin := writeScript(t, fmt.Sprintf(fakeRPiCamScript, marker))
	return NewRPiCam(bin, t.TempDir(), nil), marker
}

func waitForFile(t *testing.T, path string) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil {
			return data
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s did not appear", path)
	return nil
}

func running(c *RPiCam) bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// ---------- RPiCam ----------

func TestRPiCam_StreamsBetweenStartAndCapture(t *testing.T) {
	cam, marker := newFakeRPiCam(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "captured_image_20240101_120000.png")

	if err := cam.Configure(StillResolution); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := cam.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cam.Stop()

	// The process must already hold the sensor during the warm-up window.
	args := strings.TrimSpace(string(waitForFile(t, marker)))
	if !running(cam) {
		t.Fatal("rpicam process exited before capture")
	}
	want := "--nopreview --timeout 0 --signal --encoding png --width 3280 --height 2464 -o " + cam.pending
	if args != want {
		t.Errorf("args = %q\nwant   %q", args, want)
	}
	if strings.Contains(args, "--immediate") {
		t.Error("--immediate skips the preview phase and must not be used")
	}

	if err := cam.CaptureTo(ctx, out); err != nil {
		t.Fatalf("CaptureTo: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("frame not moved to %s: %v", out, err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
		t.Errorf("frame = %q, want PNG signature", data)
	}
	if _, err := os.Stat(cam.pending); !os.IsNotExist(err) {
		t.Error("scratch frame should be gone after the move")
	}
	if err := cam.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestRPiCam_StopWithoutCapture(t *testing.T) {
	cam, marker := newFakeRPiCam(t)
	_ = cam.Configure(StillResolution)
	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForFile(t, marker)

	if err := cam.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(marker + ".stop"); err != nil {
		t.Error("Stop should end the process with SIGUSR2")
	}
	if err := cam.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := cam.CaptureTo(context.Background(), filepath.Join(t.TempDir(), "x.png")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("CaptureTo after Stop = %v, want ErrNotStarted", err)
	}
}

func TestRPiCam_ProcessFailureIncludesStderr(t *testing.T) {
	cam := NewRPiCam(writeScript(t, failingRPiCamScript), t.TempDir(), nil)
	_ = cam.Configure(StillResolution)
	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer cam.Stop()
	<-cam.done

	err := cam.CaptureTo(context.Background(), filepath.Join(t.TempDir(), "x.png"))
	if err == nil {
		t.Fatal("expected capture error")
	}
	if !strings.Contains(err.Error(), "no cameras available") {
		t.Errorf("error %q should carry stderr", err)
	}
}

func TestRPiCam_StartWithoutConfigure(t *testing.T) {
	cam := NewRPiCam("rpicam-still", t.TempDir(), nil)
	if err := cam.Start(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Start = %v, want ErrNotConfigured", err)
	}
}

func TestRPiCam_CaptureWithoutStart(t *testing.T) {
	cam := NewRPiCam("rpicam-still", t.TempDir(), nil)
	_ = cam.Configure(StillResolution)
	if err := cam.CaptureTo(context.Background(), "/tmp/x.png"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("CaptureTo = %v, want ErrNotStarted", err)
	}
}

func TestRPiCam_DoubleStart(t *testing.T) {
	cam, _ := newFakeRPiCam(t)
	_ = cam.Configure(StillResolution)
	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer cam.Stop()
	if err := cam.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := cam.Configure(StillResolution); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Configure while started = %v, want ErrAlreadyStarted", err)
	}
}

func TestRPiCam_BinaryMissing(t *testing.T) {
	cam := NewRPiCam(filepath.Join(t.TempDir(), "no-such-rpicam"), t.TempDir(), nil)
	_ = cam.Configure(StillResolution)
	if err := cam.Start(context.Background()); err == nil {
		t.Fatal("expected error when binary is missing")
	}
}

func TestRPiCam_InvalidResolution(t *testing.T) {
	cam := NewRPiCam("rpicam-still", "", nil)
	if err := cam.Configure(Resolution{Width: 0, Height: 2464}); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestRPiCam_StopIdempotent(t *testing.T) {
	cam := NewRPiCam("rpicam-still", "", nil)
	if err := cam.Stop(); err != nil {
		t.Errorf("Stop on unstarted camera: %v", err)
	}
	if err := cam.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

// ---------- Mock ----------

func TestMock_WritesPNGAtResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captured_image_20240101_120000.png")
	cam := NewMock()
	ctx := context.Background()
	res := Resolution{Width: 64, Height: 48}

	if err := cam.Configure(res); err != nil {
		t.Fatal(err)
	}
	if err := cam.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := cam.CaptureTo(ctx, path); err != nil {
		t.Fatalf("CaptureTo: %v", err)
	}
	_ = cam.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("file does not start with the PNG signature")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != res.Width || cfg.Height != res.Height {
		t.Errorf("png size = %dx%d, want %s", cfg.Width, cfg.Height, res)
	}
}

func TestMock_CaptureAfterStop(t *testing.T) {
	cam := NewMock()
	_ = cam.Configure(StillResolution)
	_ = cam.Start(context.Background())
	_ = cam.Stop()
	if err := cam.CaptureTo(context.Background(), filepath.Join(t.TempDir(), "x.png")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("CaptureTo after Stop = %v, want ErrNotStarted", err)
	}
}

func TestImplementsCamera(t *testing.T) {
	var _ Camera = NewMock()
	var _ Camera = NewRPiCam("rpicam-still", "", nil)
}

func TestMock_EncodeFailureRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captured_image_20240101_120000.png")
	cam := NewMock()
	cam.encode = func(w io.Writer, _ image.Image) error {
		_, _ = w.Write([]byte("\x89PNG"))
		return errors.New("short write")
	}
	_ = cam.Configure(Resolution{Width: 8, Height: 8})
	_ = cam.Start(context.Background())

	if err := cam.CaptureTo(context.Background(), path); err == nil {
		t.Fatal("expected encode error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("truncated staging file should be removed")
	}
}
