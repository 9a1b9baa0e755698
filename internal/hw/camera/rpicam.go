package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Timeouts for the rpicam-still process after it has been signalled.
const (
	captureTimeout = 30 * time.Second
	stopTimeout    = 5 * time.Second
)

var errStreamClosed = errors.New("camera: rpicam process already exited")

// RPiCam captures stills with rpicam-still (or libcamera-still) in signal mode.
//
// Start launches the process with no timeout, so the sensor streams and
// auto-exposure/white balance converge while the caller waits. CaptureTo sends
// SIGUSR1, which makes rpicam-still write one frame and exit; the frame is then
// moved to the requested path. Stop sends SIGUSR2 (quit without capture) if the
// process is still running.
type RPiCam struct {
	command    string
	scratchDir string
	log        *slog.Logger
	res        Resolution

	cmd     *exec.Cmd
	pending string        // output file the process writes on SIGUSR1
	stderr  *bytes.Buffer // read only after done is closed
	done    chan struct{}
	waitErr error
}

// NewRPiCam returns a driver for the given binary name or path. Frames are
// written to scratchDir first ("" = os.TempDir()); keep it on the same
// filesystem as the staging directory so the final move is a rename.
func NewRPiCam(command, scratchDir string, log *slog.Logger) *RPiCam {
	if log == nil {
		log = slog.Default()
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &RPiCam{command: command, scratchDir: scratchDir, log: log}
}

func (c *RPiCam) Configure(res Resolution) error {
	if c.cmd != nil {
		return ErrAlreadyStarted
	}
	if res.Width <= 0 || res.Height <= 0 {
		return fmt.Errorf("camera: invalid resolution %s", res)
	}
	c.res = res
	c.log.Debug("camera configured", "command", c.command, "resolution", res.String())
	return nil
}

func (c *RPiCam) Start(ctx context.Context) error {
	if c.res == (Resolution{}) {
		return ErrNotConfigured
	}
	if c.cmd != nil {
		return ErrAlreadyStarted
	}
	bin, err := exec.LookPath(c.command)
	if err != nil {
		return fmt.Errorf("camera: locate %s: %w", c.command, err)
	}

	f, err := os.CreateTemp(c.scratchDir, ".rpicam-*.png")
	if err != nil {
		return fmt.Errorf("camera: reserve output file: %w", err)
	}
	pending := f.Name()
	f.Close()
	// rpicam-still creates the file itself on capture.
	_ = os.Remove(pending)

	args := []string{
		"--nopreview",
		"--timeout", "0",
		"--signal",
		"--encoding", "png",
		"--width", strconv.Itoa(c.res.Width),
		"--height", strconv.Itoa(c.res.Height),
		"-o", pending,
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("camera: start %s: %w", c.command, err)
	}

	c.cmd = cmd
	c.pending = pending
	c.stderr = stderr
	c.done = make(chan struct{})
	go func() {
		c.waitErr = cmd.Wait()
		close(c.done)
	}()
	c.log.Debug("camera started", "binary", bin, "pid", cmd.Process.Pid)
	return nil
}

func (c *RPiCam) CaptureTo(ctx context.Context, path string) error {
	if c.cmd == nil {
		return ErrNotStarted
	}
	select {
	case <-c.done:
		if c.waitErr != nil {
			return c.processError(c.waitErr)
		}
		return errStreamClosed
	default:
	}

	if err := c.cmd.Process.Signal(unix.SIGUSR1); err != nil {
		return fmt.Errorf("camera: trigger capture: %w", err)
	}

	timer := time.NewTimer(captureTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-ctx.Done():
		c.kill()
		return ctx.Err()
	case <-timer.C:
		c.kill()
		return fmt.Errorf("camera: no frame after %v", captureTimeout)
	}
	if c.waitErr != nil {
		return c.processError(c.waitErr)
	}

	if err := moveFile(c.pending, path); err != nil {
		return fmt.Errorf("camera: store frame: %w", err)
	}
	return nil
}

// Stop ends the process without capturing if it is still running and
// removes any frame that was not claimed by CaptureTo.
func (c *RPiCam) Stop() error {
	if c.cmd == nil {
		return nil
	}
	select {
	case <-c.done:
	default:
		_ = c.cmd.Process.Signal(unix.SIGUSR2)
		select {
		case <-c.done:
		case <-time.After(stopTimeout):
			c.kill()
		}
	}
	_ = os.Remove(c.pending)
	c.cmd = nil
	c.log.Debug("camera stopped")
	return nil
}

func (c *RPiCam) kill() {
	_ = c.cmd.Process.Kill()
	<-c.done
}

func (c *RPiCam) processError(err error) error {
	if msg := strings.TrimSpace(c.stderr.String()); msg != "" {
		return fmt.Errorf("camera: %s: %w (stderr: %s)", c.command, err, msg)
	}
	return fmt.Errorf("camera: %s: %w", c.command, err)
}

// moveFile renames src to dst, copying when they are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, unix.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
