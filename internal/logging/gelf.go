package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// MessageWriter is the part of a gelf writer the handler needs.
type MessageWriter interface {
	WriteMessage(m *gelf.Message) error
}

// Syslog severities used by GELF.
const (
	syslogError   int32 = 3
	syslogWarning int32 = 4
	syslogInfo    int32 = 6
	syslogDebug   int32 = 7
)

// GELFHandler is a slog.Handler that sends each record as a GELF 1.1 message.
// Attributes become additional fields prefixed with "_"; groups are joined
// with "_" as well.
type GELFHandler struct {
	w      MessageWriter
	level  slog.Leveler
	host   string
	attrs  []slog.Attr
	prefix string
}

// NewGELFHandler returns a handler writing to w.
func NewGELFHandler(w MessageWriter, level slog.Leveler) *GELFHandler {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return &GELFHandler{w: w, level: level, host: host}
}

func (h *GELFHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.level != nil {
		threshold = h.level.Level()
	}
	return level >= threshold
}

func (h *GELFHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addField(extra, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(extra, h.prefix, a)
		return true
	})

	raw, err := json.Marshal(extra)
	if err != nil {
		return err
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return h.w.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(ts.UnixNano()) / float64(time.Second),
		Level:    syslogLevel(r.Level),
		RawExtra: raw,
	})
}

func (h *GELFHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *GELFHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "_"
	return &nh
}

func addField(extra map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return
	}
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "_"
		}
		for _, ga := range v.Group() {
			addField(extra, p, ga)
		}
		return
	}
	key := "_" + prefix + a.Key
	// "_id" is reserved by Graylog.
	if key == "_id" {
		key = "_id_"
	}
	extra[key] = fieldValue(v)
}

func fieldValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().Seconds()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		if s, ok := v.Any().(interface{ String() string }); ok {
			return s.String()
		}
		return v.Any()
	default:
		return v.Any()
	}
}

func syslogLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return syslogError
	case l >= slog.LevelWarn:
		return syslogWarning
	case l >= slog.LevelInfo:
		return syslogInfo
	default:
		return syslogDebug
	}
}
