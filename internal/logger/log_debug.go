//go:build debug

package logger

import (
	"context"
	"log/slog"
)

// Usage:
//
//	logger.DebugLazy(ctx, "collector finished", func() []slog.Attr {
//		return []slog.Attr{
//			slog.Int("stdout_bytes", len(stdout)),
//		}
//	})
func DebugLazy(ctx context.Context, msg string, build func() []slog.Attr) {
	l := slog.Default()
	if l.Enabled(ctx, slog.LevelDebug) {
		l.LogAttrs(ctx, slog.LevelDebug, msg, build()...)
	}
}
