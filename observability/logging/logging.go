package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions enables a rotated log file alongside stdout.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (o FileOptions) writer() io.Writer {
	if strings.TrimSpace(o.Path) == "" {
		return nil
	}
	maxSize := o.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   o.Path,
		MaxSize:    maxSize,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
		Compress:   o.Compress,
	}
}

// Setup configures the standard library logger to emit structured JSON and
// returns the underlying slog.Logger. All log lines include the service name
// and environment when provided. When file options name a path, records are
// also written to a size-rotated file.
func Setup(service, env string, file ...FileOptions) *slog.Logger {
	var out io.Writer = os.Stdout
	for _, opts := range file {
		if w := opts.writer(); w != nil {
			out = io.MultiWriter(os.Stdout, w)
		}
	}
	return setup(out, service, env)
}

// NewWithWriter builds a logger with the same handler layout that writes to w
// without touching the process-wide defaults. Tests use it to capture output.
func NewWithWriter(w io.Writer, service string) *slog.Logger {
	return slog.New(newHandler(w)).With(slog.String("service", strings.TrimSpace(service)))
}

func newHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})
}

func setup(w io.Writer, service, env string) *slog.Logger {
	handler := newHandler(w)

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
