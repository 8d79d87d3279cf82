package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/hashmap-kz/pgmreport/internal/collector"
	"github.com/hashmap-kz/pgmreport/internal/logger"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-envconfig"
	"sigs.k8s.io/yaml"
)

const (
	EnvPrefix = "PGMREPORT_"

	DefaultSinkTimeout = 10 * time.Second

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// CronParser accepts POSIX cron syntax: "* * * * *". Without support of seconds.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Config struct {
	Collector CollectorConfig `json:"collector,omitempty"`
	Log       LogConfig       `json:"log,omitempty"`
	Output    OutputConfig    `json:"output,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Sink      SinkConfig      `json:"sink,omitempty"`
	Schedule  string          `json:"schedule,omitempty" env:"PGMREPORT_SCHEDULE"`

	ScheduleParsed cron.Schedule `json:"-"`
}

type CollectorConfig struct {
	Path    string `json:"path,omitempty" env:"PGMREPORT_COLLECTOR_PATH"`
	Timeout string `json:"timeout,omitempty" env:"PGMREPORT_COLLECTOR_TIMEOUT"`

	TimeoutParsed time.Duration `json:"-"`
}

type LogConfig struct {
	Level     string `json:"level,omitempty" env:"PGMREPORT_LOG_LEVEL, default=info"`
	Format    string `json:"format,omitempty" env:"PGMREPORT_LOG_FORMAT, default=text"`
	AddSource bool   `json:"add_source,omitempty" env:"PGMREPORT_LOG_ADD_SOURCE"`
}

type OutputConfig struct {
	SaveJSON    string `json:"save_json,omitempty" env:"PGMREPORT_SAVE_JSON"`
	FailOnError bool   `json:"fail_on_error,omitempty" env:"PGMREPORT_FAIL_ON_ERROR"`
	Details     bool   `json:"details,omitempty" env:"PGMREPORT_DETAILS"`
}

type MetricsConfig struct {
	Textfile string `json:"textfile,omitempty" env:"PGMREPORT_METRICS_TEXTFILE"`
}

type SinkConfig struct {
	URL     string `json:"url,omitempty" env:"PGMREPORT_SINK_URL"`
	Token   string `json:"token,omitempty" env:"PGMREPORT_SINK_TOKEN"`
	Timeout string `json:"timeout,omitempty" env:"PGMREPORT_SINK_TIMEOUT, default=10s"`

	TimeoutParsed time.Duration `json:"-"`
}

// Load reads the optional config file, then fills every field that is still
// unset from PGMREPORT_* environment variables (or struct-tag defaults).
// The collector binary defaults to collector.DefaultBinary.
func Load(ctx context.Context, path string) (*Config, error) {
	return load(ctx, path, envconfig.OsLookuper())
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := expandEnvsWithPrefix(string(data), EnvPrefix)
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if cfg.Collector.Path == "" {
		cfg.Collector.Path = collector.DefaultBinary
	}
	return &cfg, nil
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvsWithPrefix substitutes ${NAME} placeholders, only for names with the given prefix.
func expandEnvsWithPrefix(s, prefix string) string {
	return envPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
		name := envPlaceholder.FindStringSubmatch(m)[1]
		if !strings.HasPrefix(name, prefix) {
			return m
		}
		return os.Getenv(name)
	})
}

// Validate checks the configuration and fills the *Parsed fields.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Collector.Path) == "" {
		errs = append(errs, errors.New("collector.path is required"))
	}
	if c.Collector.Timeout != "" {
		d, err := time.ParseDuration(c.Collector.Timeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("collector.timeout cannot parse: %w", err))
		case d < 0:
			errs = append(errs, errors.New("collector.timeout must be >= 0"))
		default:
			c.Collector.TimeoutParsed = d
		}
	}

	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level is unknown: %q", c.Log.Level))
	}
	if !strings.EqualFold(c.Log.Format, LogFormatText) && !strings.EqualFold(c.Log.Format, LogFormatJSON) {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if c.Sink.URL != "" {
		u, err := url.Parse(c.Sink.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("sink.url must be an http(s) URL, got %q", c.Sink.URL))
		}
	}
	c.Sink.TimeoutParsed = DefaultSinkTimeout
	if c.Sink.Timeout != "" {
		d, err := time.ParseDuration(c.Sink.Timeout)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("sink.timeout must be a positive duration, got %q", c.Sink.Timeout))
		} else {
			c.Sink.TimeoutParsed = d
		}
	}

	if c.Schedule != "" {
		sched, err := CronParser.Parse(c.Schedule)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule cannot parse: %w", err))
		} else {
			c.ScheduleParsed = sched
		}
	}

	return errors.Join(errs...)
}

// String renders the configuration as YAML with sensitive fields hidden.
func (c *Config) String() string {
	cp := *c
	if cp.Sink.Token != "" {
		cp.Sink.Token = "***"
	}
	data, err := yaml.Marshal(&cp)
	if err != nil {
		return fmt.Sprintf("<cannot render config: %v>", err)
	}
	return strings.TrimSpace(string(data))
}
