// Package logging builds the structured logger used by picapture.
//
// Records are written as one JSON object per line with the field layout
// used by python-json-logger (asctime, levelname, message), so existing
// Logstash pipelines can parse them unchanged. When a Logstash host is
// configured, every record is also shipped as a GELF message over UDP.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/Graylog2/go-gelf/gelf"
)

// Name is attached to every record as the "logger" field.
const Name = "picapture"

// Field keys shared by the workflow events.
const (
	KeyEvent      = "event"
	KeyImagePath  = "image_path"
	KeyNFSPath    = "nfs_path"
	KeyError      = "error"
	KeyDuration   = "duration"
	KeyMountPoint = "mount_point"
	KeyRunID      = "run_id"
)

// asctimeLayout matches Python's default logging asctime.
const asctimeLayout = "2006-01-02 15:04:05,000"

// Options configures New.
type Options struct {
	Level        slog.Level
	LogstashHost string // "" = local sink only
	LogstashPort int
	RunID        string // attached to every record when non-empty
}

// Logger is a *slog.Logger that owns its optional remote sink.
type Logger struct {
	*slog.Logger
	remote io.Closer
}

// New builds a logger writing JSON lines to w. When opts.LogstashHost is set,
// a GELF UDP sink is added; if it cannot be created, the logger falls back to
// the local sink and records a warning.
func New(w io.Writer, opts Options) *Logger {
	local := NewJSONHandler(w, opts.Level)

	var (
		handler slog.Handler = local
		remote  io.Closer
		warnErr error
	)
	if opts.LogstashHost != "" {
		addr := net.JoinHostPort(opts.LogstashHost, strconv.Itoa(opts.LogstashPort))
		gw, err := gelf.NewUDPWriter(addr)
		if err != nil {
			warnErr = fmt.Errorf("gelf udp writer %s: %w", addr, err)
		} else {
			remote = gw
			handler = Fanout(local, NewGELFHandler(gw, opts.Level))
		}
	}

	l := slog.New(handler).With("logger", Name)
	if opts.RunID != "" {
		l = l.With(KeyRunID, opts.RunID)
	}
	if warnErr != nil {
		l.Warn("Remote log shipping disabled", KeyError, warnErr.Error())
	}
	return &Logger{Logger: l, remote: remote}
}

// Remote reports whether records are shipped to Logstash.
func (l *Logger) Remote() bool {
	return l.remote != nil
}

// Close releases the remote sink, if any.
func (l *Logger) Close() error {
	if l.remote == nil {
		return nil
	}
	return l.remote.Close()
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return lvl, nil
}

// NewJSONHandler returns a slog JSON handler that renames the built-in keys
// to asctime, levelname and message.
func NewJSONHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceBuiltins,
	})
}

func replaceBuiltins(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String("asctime", a.Value.Time().Format(asctimeLayout))
	case slog.LevelKey:
		lvl, _ := a.Value.Any().(slog.Level)
		return slog.String("levelname", LevelName(lvl))
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

// LevelName returns the Python-style level name.
func LevelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// Fanout returns a handler that passes each record to every handler.
// An error from one handler does not prevent the others from running.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return &fanout{handlers: handlers}
}

type fanout struct {
	handlers []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: hs}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &fanout{handlers: hs}
}
