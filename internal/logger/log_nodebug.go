//go:build !debug

package logger

import (
	"context"
	"log/slog"
)

// Release builds: the attrs builder is never evaluated.

func DebugLazy(_ context.Context, _ string, _ func() []slog.Attr) {
}
