package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cjeanneret/picapture/internal/hw/camera"
	"github.com/cjeanneret/picapture/internal/logging"
)

// WarmUp lets auto-exposure and white balance settle before the frame is taken.
const WarmUp = 2 * time.Second

// DefaultMountPoint is the durable target used when none is configured.
const DefaultMountPoint = "/mnt/nas"

const (
	stagingPrefix   = "captured_image_"
	stagingExt      = ".png"
	timestampLayout = "20060102_150405"
)

// Filesystem is what the workflow needs from the host filesystem.
type Filesystem interface {
	IsMounted(path string) bool
	Copy(src, dst string) error
	// Remove deletes path and reports whether it existed.
	Remove(path string) (bool, error)
}

// Session is the state of one capture run. StagingPath is set only once the
// camera has captured and been stopped successfully.
type Session struct {
	StagingPath string
	CapturedAt  time.Time
	Resolution  camera.Resolution
}

// Workflow runs one capture and its optional handoff and cleanup.
// It is single use and not safe for concurrent calls.
type Workflow struct {
	camera     camera.Camera
	fs         Filesystem
	log        *slog.Logger
	stagingDir string
	session    Session

	now   func() time.Time
	sleep func(time.Duration)
}

// NewWorkflow wires a workflow. An empty stagingDir means os.TempDir().
func NewWorkflow(cam camera.Camera, fsys Filesystem, log *slog.Logger, stagingDir string) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	return &Workflow{
		camera:     cam,
		fs:         fsys,
		log:        log,
		stagingDir: stagingDir,
		session:    Session{Resolution: camera.StillResolution},
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Session returns a copy of the current session.
func (w *Workflow) Session() Session {
	return w.session
}

// StagingName returns the staging file name for a capture taken at t.
// Two captures in the same second get the same name.
func StagingName(t time.Time) string {
	return stagingPrefix + t.Format(timestampLayout) + stagingExt
}

// AcquireAndCapture configures the camera, waits WarmUp, writes one frame
// to the staging directory and stops the camera. It returns the staging path.
func (w *Workflow) AcquireAndCapture(ctx context.Context) (string, error) {
	capturedAt := w.now()
	path := filepath.Join(w.stagingDir, StagingName(capturedAt))

	w.log.Info("Capturing image...", logging.KeyEvent, "capture_start")

	if err := w.camera.Configure(w.session.Resolution); err != nil {
		return "", &Error{Kind: KindCapture, Op: "configure", Err: err}
	}
	if err := w.camera.Start(ctx); err != nil {
		return "", &Error{Kind: KindCapture, Op: "start", Err: err}
	}

	w.sleep(WarmUp)

	if err := w.camera.CaptureTo(ctx, path); err != nil {
		// Release the device; the capture error is what matters.
		_ = w.camera.Stop()
		return "", &Error{Kind: KindCapture, Op: "capture", Path: path, Err: err}
	}
	if err := w.camera.Stop(); err != nil {
		return "", &Error{Kind: KindCapture, Op: "stop", Err: err}
	}

	w.session.StagingPath = path
	w.session.CapturedAt = capturedAt
	w.log.Info("Image captured",
		logging.KeyEvent, "capture_complete",
		logging.KeyImagePath, path,
	)
	return path, nil
}

// HandoffToDurableStorage copies the staging file to mountPoint under the same
// base name and returns the destination. A missing mount is fatal
// (KindMountNotFound); a failed copy is logged and returned as a soft
// KindCopy error.
func (w *Workflow) HandoffToDurableStorage(mountPoint string) (string, error) {
	if w.session.StagingPath == "" {
		return "", &Error{Kind: KindUnhandled, Op: "handoff", Err: errors.New("no staged image")}
	}
	if !w.fs.IsMounted(mountPoint) {
		w.log.Error("NFS mount not found",
			logging.KeyEvent, "mount_missing",
			logging.KeyMountPoint, mountPoint,
		)
		return "", &Error{
			Kind: KindMountNotFound,
			Op:   "handoff",
			Path: mountPoint,
			Err:  fmt.Errorf("%s is not mounted", mountPoint),
		}
	}

	target := filepath.Join(mountPoint, filepath.Base(w.session.StagingPath))
	if err := w.fs.Copy(w.session.StagingPath, target); err != nil {
		w.log.Error("Failed to copy image to NFS",
			logging.KeyEvent, "copy_failed",
			logging.KeyNFSPath, target,
			logging.KeyError, err.Error(),
		)
		return target, &Error{Kind: KindCopy, Op: "copy", Path: target, Err: err}
	}

	w.log.Info("Copied image to NFS",
		logging.KeyEvent, "copy_complete",
		logging.KeyNFSPath, target,
	)
	return target, nil
}

// CleanupStaging removes the staging file if it exists. A missing file is
// not an error; a failed removal is returned as KindCleanup.
func (w *Workflow) CleanupStaging() (bool, error) {
	path := w.session.StagingPath
	if path == "" {
		return false, nil
	}
	removed, err := w.fs.Remove(path)
	if err != nil {
		return false, &Error{Kind: KindCleanup, Op: "cleanup", Path: path, Err: err}
	}
	if removed {
		w.log.Info("Temporary file removed",
			logging.KeyEvent, "file_removed",
			logging.KeyImagePath, path,
		)
	}
	return removed, nil
}

// Options selects the optional steps of Run.
type Options struct {
	Durable    bool      // copy to MountPoint after capture
	MountPoint string    // "" = DefaultMountPoint
	Keep       bool      // skip cleanup
	Start      time.Time // process start; zero = start of Run
}

// Result describes a finished run. Err holds the fatal error, if any;
// a soft copy failure is reported in CopyErr only.
type Result struct {
	StagingPath string
	DurablePath string // set when a copy was attempted
	CopyErr     error
	Removed     bool
	Duration    float64 // seconds, rounded to 2 decimals; 0 when the run failed
	Err         error
}

// Run executes capture, the optional durable handoff and the optional cleanup,
// then logs the total duration. Any fatal error, including a panic, is logged
// once as an unhandled exception and returned in Result.Err.
func (w *Workflow) Run(ctx context.Context, opts Options) (res Result) {
	start := opts.Start
	if start.IsZero() {
		start = w.now()
	}
	mountPoint := opts.MountPoint
	if mountPoint == "" {
		mountPoint = DefaultMountPoint
	}

	defer func() {
		if r := recover(); r != nil {
			res.Err = &Error{Kind: KindUnhandled, Op: "run", Err: fmt.Errorf("panic: %v", r)}
		}
		if res.Err != nil {
			w.log.Error("Unhandled exception occurred",
				logging.KeyEvent, "unhandled_exception",
				logging.KeyError, res.Err.Error(),
			)
		}
	}()

	path, err := w.AcquireAndCapture(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.StagingPath = path

	if opts.Durable {
		target, err := w.HandoffToDurableStorage(mountPoint)
		res.DurablePath = target
		if IsFatal(err) {
			res.Err = err
			return res
		}
		res.CopyErr = err
	}

	if !opts.Keep {
		removed, err := w.CleanupStaging()
		if err != nil {
			res.Err = err
			return res
		}
		res.Removed = removed
	}

	res.Duration = RoundSeconds(w.now().Sub(start))
	w.log.Info("Process complete",
		logging.KeyEvent, "process_complete",
		logging.KeyDuration, res.Duration,
	)
	return res
}

// RoundSeconds converts d to seconds rounded to two decimal places.
func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
