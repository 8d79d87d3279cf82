package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/hashmap-kz/pgmreport/internal/logger"
	"github.com/hashmap-kz/pgmreport/internal/report"
)

const DefaultBinary = "pgmetrics"

// ProcessError means the collector could not be started or exited non-zero.
type ProcessError struct {
	Command  []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("command %q returned non-zero exit status %d", strings.Join(e.Command, " "), e.ExitCode)
	}
	return fmt.Sprintf("command %q failed: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// DecodeError means the collector succeeded but its stdout is not valid JSON.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode collector output: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Opts struct {
	Binary  string
	Timeout time.Duration
	Runner  Runner
}

type Collector struct {
	l       *slog.Logger
	binary  string
	timeout time.Duration
	runner  Runner
}

func New(opts *Opts) *Collector {
	c := &Collector{
		l:       slog.With(slog.String("component", "collector")),
		binary:  DefaultBinary,
		runner:  ExecRunner{},
		timeout: opts.Timeout,
	}
	if opts.Binary != "" {
		c.binary = opts.Binary
	}
	if opts.Runner != nil {
		c.runner = opts.Runner
	}
	return c
}

func (c *Collector) log() *slog.Logger {
	if c.l != nil {
		return c.l
	}
	return slog.With(slog.String("component", "collector"))
}

func (c *Collector) Binary() string {
	return c.binary
}

// Args is the complete collector argument list for a host, nothing else is passed.
func Args(host string) []string {
	return []string{"--format", "json", "--host", host}
}

// Collect runs the collector for host and decodes its output. The host is
// passed through as given. Failures are *ProcessError or *DecodeError.
func (c *Collector) Collect(ctx context.Context, host string) (*report.Document, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := Args(host)
	command := append([]string{c.binary}, args...)
	c.log().Debug("running collector", slog.String("host", host), slog.String("cmd", strings.Join(command, " ")))

	start := time.Now()
	stdout, stderr, err := c.runner.Run(ctx, c.binary, args...)
	logger.DebugLazy(ctx, "collector finished", func() []slog.Attr {
		return []slog.Attr{
			slog.Int("stdout_bytes", len(stdout)),
			slog.Int("stderr_bytes", len(stderr)),
			slog.Duration("elapsed", time.Since(start)),
		}
	})

	if err != nil {
		perr := &ProcessError{
			Command:  command,
			ExitCode: -1,
			Stderr:   string(stderr),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			perr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			perr.Err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		c.log().Error("collector failed",
			slog.String("host", host),
			slog.Int("exit_code", perr.ExitCode),
			slog.Any("err", err),
		)
		return nil, perr
	}

	doc, err := report.Decode(stdout)
	if err != nil {
		c.log().Error("cannot decode collector output", slog.String("host", host), slog.Any("err", err))
		return nil, &DecodeError{Raw: string(stdout), Err: err}
	}

	c.log().Info("collected",
		slog.String("host", host),
		slog.Int("keys", doc.Keys()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return doc, nil
}
