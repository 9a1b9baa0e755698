package capture

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow failure. Only KindCopy is soft: the run
// continues after it. Every other kind ends the run.
type Kind int

const (
	KindCapture Kind = iota + 1
	KindMountNotFound
	KindCopy
	KindCleanup
	KindUnhandled
)

// Sentinels for errors.Is. Each matches any *Error of the same kind.
var (
	ErrCapture       = errors.New("capture failed")
	ErrMountNotFound = errors.New("mount not found")
	ErrCopy          = errors.New("copy failed")
	ErrCleanup       = errors.New("cleanup failed")
	ErrUnhandled     = errors.New("unhandled error")
)

func (k Kind) String() string {
	switch k {
	case KindCapture:
		return "capture"
	case KindMountNotFound:
		return "mount_not_found"
	case KindCopy:
		return "copy"
	case KindCleanup:
		return "cleanup"
	case KindUnhandled:
		return "unhandled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Fatal reports whether a failure of this kind aborts the run.
func (k Kind) Fatal() bool {
	return k != KindCopy
}

func (k Kind) sentinel() error {
	switch k {
	case KindCapture:
		return ErrCapture
	case KindMountNotFound:
		return ErrMountNotFound
	case KindCopy:
		return ErrCopy
	case KindCleanup:
		return ErrCleanup
	default:
		return ErrUnhandled
	}
}

// Error is returned by every workflow step.
type Error struct {
	Kind Kind
	Op   string // configure, start, capture, stop, handoff, copy, cleanup, run
	Path string // file or mount point involved, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Fatal reports whether e aborts the run.
func (e *Error) Fatal() bool { return e.Kind.Fatal() }

// KindOf returns the kind of err. Errors that did not come from the
// workflow are KindUnhandled; nil has kind 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindUnhandled
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Fatal()
}
