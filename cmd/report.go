package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hashmap-kz/pgmreport/config"
	"github.com/hashmap-kz/pgmreport/internal/collector"
	"github.com/hashmap-kz/pgmreport/internal/metrics"
	"github.com/hashmap-kz/pgmreport/internal/report"
	"github.com/hashmap-kz/pgmreport/internal/sink"
)

var errCollectFailed = errors.New("could not retrieve monitoring data")

type reporter struct {
	l         *slog.Logger
	cfg       *config.Config
	out       io.Writer
	collector *collector.Collector
	printer   *report.Printer
	sink      *sink.Sink
	metrics   *metrics.Exporter
}

func newReporter(cfg *config.Config, out io.Writer, runner collector.Runner) *reporter {
	r := &reporter{
		l:   slog.With(slog.String("component", "report")),
		cfg: cfg,
		out: out,
		collector: collector.New(&collector.Opts{
			Binary:  cfg.Collector.Path,
			Timeout: cfg.Collector.TimeoutParsed,
			Runner:  runner,
		}),
		printer: report.NewPrinter(out, cfg.Output.Details),
	}
	if cfg.Sink.URL != "" {
		r.sink = sink.New(&sink.Opts{
			URL:     cfg.Sink.URL,
			Token:   cfg.Sink.Token,
			Timeout: cfg.Sink.TimeoutParsed,
		})
	}
	return r
}

func (r *reporter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// run performs one full report: banners, collection, optional outputs.
// It returns errCollectFailed when no document could be obtained.
func (r *reporter) run(ctx context.Context, host string) error {
	r.printf("Running %s with JSON format for host: %s\n\n", r.collector.Binary(), host)

	start := time.Now()
	doc, err := r.collect(ctx, host)
	elapsed := time.Since(start)

	if doc != nil {
		r.saveJSON(doc)
		r.push(ctx, host, doc)
	}
	r.exportMetrics(host, doc, elapsed, err)

	if doc == nil {
		r.printf("\n=== FAILED ===\n")
		r.printf("Could not retrieve monitoring data.\n")
		return errCollectFailed
	}
	r.printf("\n=== SUCCESS ===\n")
	r.printf("Monitoring data for host %s collected in %s.\n", host, elapsed.Round(time.Millisecond))
	return nil
}

// collect runs the collector and prints the summary. Any failure is printed
// with its diagnostic text and turned into a nil document.
func (r *reporter) collect(ctx context.Context, host string) (*report.Document, error) {
	doc, err := r.collector.Collect(ctx, host)
	if err != nil {
		var (
			perr *collector.ProcessError
			derr *collector.DecodeError
		)
		switch {
		case errors.As(err, &perr):
			r.printf("Error running %s: %v\n", r.collector.Binary(), perr)
			r.printf("stderr: %s\n", perr.Stderr)
		case errors.As(err, &derr):
			r.printf("Error parsing JSON: %v\n", derr.Err)
			r.printf("stdout: %s\n", derr.Raw)
		default:
			r.printf("Error: %v\n", err)
		}
		return nil, err
	}

	r.printer.Print(doc)
	return doc, nil
}

func (r *reporter) saveJSON(doc *report.Document) {
	path := r.cfg.Output.SaveJSON
	if path == "" {
		return
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		r.l.Error("cannot marshal document", slog.Any("err", err))
		return
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o640); err != nil {
		r.l.Error("cannot save document", slog.String("path", path), slog.Any("err", err))
		return
	}
	r.printf("\nFull JSON output saved to %s\n", path)
}

func (r *reporter) push(ctx context.Context, host string, doc *report.Document) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Push(ctx, host, doc); err != nil {
		r.l.Error("cannot push document", slog.String("host", host), slog.Any("err", err))
	}
}

func (r *reporter) exportMetrics(host string, doc *report.Document, elapsed time.Duration, runErr error) {
	if r.cfg.Metrics.Textfile == "" {
		return
	}
	if r.metrics == nil {
		r.metrics = metrics.NewExporter(r.cfg.Metrics.Textfile, host)
	}
	r.metrics.Observe(doc, elapsed, runErr)
	if err := r.metrics.Write(); err != nil {
		r.l.Error("cannot write metrics", slog.Any("err", err))
	}
}
