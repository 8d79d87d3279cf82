package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashmap-kz/pgmreport/config"
	"github.com/hashmap-kz/pgmreport/internal/collector"
	"github.com/hashmap-kz/pgmreport/internal/logger"
	"github.com/hashmap-kz/pgmreport/internal/version"
	"github.com/urfave/cli/v3"
)

const (
	exitBadArgs       = 1
	exitCollectFailed = 2
)

type appDeps struct {
	stdout io.Writer
	runner collector.Runner
}

func App() *cli.Command {
	return newApp(&appDeps{
		stdout: os.Stdout,
		runner: collector.ExecRunner{},
	})
}

func newApp(deps *appDeps) *cli.Command {
	return &cli.Command{
		Name:      "pgmreport",
		Usage:     "Summarize pgmetrics JSON output for a PostgreSQL host",
		ArgsUsage: "<host>",
		Version:   version.Version,
		Writer:    deps.stdout,
		Description: `Runs 'pgmetrics --format json --host <host>' and prints active sessions,
replication status, wait events, blocked sessions and WAL receiver status.

Example:
pgmreport psql-infra-eastus-qa
pgmreport --details --save-json pgmetrics_output.json psql-infra-eastus-qa`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (yaml or json)",
				Sources: cli.EnvVars("PGMREPORT_CONFIG_PATH"),
			},
			&cli.BoolFlag{
				Name:  "config-template",
				Usage: "Print a config file template and exit",
			},
			&cli.StringFlag{
				Name:  "collector",
				Usage: "Collector binary (ENV: PGMREPORT_COLLECTOR_PATH)",
			},
			&cli.StringFlag{
				Name:  "timeout",
				Usage: "Abort the collector after this duration, e.g. 2m (ENV: PGMREPORT_COLLECTOR_TIMEOUT)",
			},
			&cli.StringFlag{
				Name:  "save-json",
				Usage: "Save the full JSON document to this file (ENV: PGMREPORT_SAVE_JSON)",
			},
			&cli.BoolFlag{
				Name:  "details",
				Usage: "Print LSNs, queries, replication slots and an analysis block (ENV: PGMREPORT_DETAILS)",
			},
			&cli.BoolFlag{
				Name:  "fail-on-error",
				Usage: "Exit with code 2 when collection fails (ENV: PGMREPORT_FAIL_ON_ERROR)",
			},
			&cli.StringFlag{
				Name:  "metrics-textfile",
				Usage: "Write Prometheus metrics of the run to this file (ENV: PGMREPORT_METRICS_TEXTFILE)",
			},
			&cli.StringFlag{
				Name:  "sink-url",
				Usage: "POST the JSON document to this URL (ENV: PGMREPORT_SINK_URL)",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "Repeat the report on a cron schedule, e.g. '*/5 * * * *' (ENV: PGMREPORT_SCHEDULE)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: trace/debug/info/warn/error (ENV: PGMREPORT_LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text/json (ENV: PGMREPORT_LOG_FORMAT)",
			},
			&cli.BoolFlag{
				Name:  "log-add-source",
				Usage: "Include source file and line in log output (ENV: PGMREPORT_LOG_ADD_SOURCE)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("config-template") {
				_, _ = fmt.Fprintln(deps.stdout, GetConfigTemplate())
				return nil
			}
			if c.Args().Len() != 1 {
				printUsage(deps.stdout)
				return cli.Exit("", exitBadArgs)
			}
			host := c.Args().First()

			cfg, err := loadConfig(ctx, c)
			if err != nil {
				return err
			}

			r := newReporter(cfg, deps.stdout, deps.runner)
			if cfg.ScheduleParsed != nil {
				return runScheduled(ctx, cfg.ScheduleParsed, func(ctx context.Context) {
					_ = r.run(ctx, host)
				})
			}

			if err := r.run(ctx, host); err != nil && cfg.Output.FailOnError {
				return cli.Exit("", exitCollectFailed)
			}
			return nil
		},
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: pgmreport [flags] <host>")
	_, _ = fmt.Fprintln(w, "Example: pgmreport psql-infra-eastus-qa")
}

// loadConfig: file (-c / $PGMREPORT_CONFIG_PATH), then PGMREPORT_* envs, then explicitly set flags.
func loadConfig(ctx context.Context, c *cli.Command) (*config.Config, error) {
	configPath := c.String("config")

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, err
	}

	if c.IsSet("collector") {
		cfg.Collector.Path = c.String("collector")
	}
	if c.IsSet("timeout") {
		cfg.Collector.Timeout = c.String("timeout")
	}
	if c.IsSet("save-json") {
		cfg.Output.SaveJSON = c.String("save-json")
	}
	if c.IsSet("details") {
		cfg.Output.Details = c.Bool("details")
	}
	if c.IsSet("fail-on-error") {
		cfg.Output.FailOnError = c.Bool("fail-on-error")
	}
	if c.IsSet("metrics-textfile") {
		cfg.Metrics.Textfile = c.String("metrics-textfile")
	}
	if c.IsSet("sink-url") {
		cfg.Sink.URL = c.String("sink-url")
	}
	if c.IsSet("schedule") {
		cfg.Schedule = c.String("schedule")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("log-add-source") {
		cfg.Log.AddSource = c.Bool("log-add-source")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(&logger.Opts{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})

	// sensitive fields are hidden
	slog.Debug("configuration loaded",
		slog.String("path", filepath.ToSlash(configPath)),
		slog.String("config", cfg.String()),
	)
	return cfg, nil
}
