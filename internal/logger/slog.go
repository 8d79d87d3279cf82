package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	LevelTrace = slog.LevelDebug - 4
	LevelFatal = slog.LevelError + 4
)

var levels = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

type Opts struct {
	Level     string
	Format    string
	AddSource bool

	// Writer defaults to os.Stderr, stdout is reserved for the report.
	Writer io.Writer
}

// ParseLevel maps a level name to a slog level, INFO when the name is unknown.
func ParseLevel(s string) (slog.Level, bool) {
	lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return slog.LevelInfo, false
	}
	return lvl, true
}

func Init(opts *Opts) {
	slog.SetDefault(New(opts))
}

func New(opts *Opts) *slog.Logger {
	if opts == nil {
		opts = &Opts{}
	}
	lvl, _ := ParseLevel(opts.Level)
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	replaceAttr := func(_ []string, attr slog.Attr) slog.Attr {
		// basename of a source, only when add-source is enabled
		if opts.AddSource && attr.Key == slog.SourceKey {
			if src, ok := attr.Value.Any().(*slog.Source); ok {
				src.File = filepath.Base(src.File)
				attr.Value = slog.AnyValue(src)
			}
		}
		if attr.Key == slog.LevelKey {
			if recLvl, ok := attr.Value.Any().(slog.Level); ok {
				switch recLvl {
				case LevelTrace:
					return slog.String(slog.LevelKey, "TRACE")
				case LevelFatal:
					return slog.String(slog.LevelKey, "FATAL")
				}
			}
		}
		return attr
	}

	handlerOpts := &slog.HandlerOptions{
		AddSource:   opts.AddSource,
		Level:       lvl,
		ReplaceAttr: replaceAttr,
	}

	var baseHandler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		baseHandler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		baseHandler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(baseHandler.WithAttrs([]slog.Attr{
		slog.Int("pid", os.Getpid()),
	}))
}
