package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashmap-kz/pgmreport/internal/report"
	"github.com/hashmap-kz/pgmreport/internal/version"
)

type Opts struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Sink forwards the raw result document to an HTTP endpoint.
type Sink struct {
	l      *slog.Logger
	url    string
	client *resty.Client
}

func New(opts *Opts) *Sink {
	client := resty.New()
	client.SetRetryCount(0)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", "pgmreport/"+version.Version)
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	return &Sink{
		l:      slog.With(slog.String("component", "sink")),
		url:    opts.URL,
		client: client,
	}
}

func (s *Sink) log() *slog.Logger {
	if s.l != nil {
		return s.l
	}
	return slog.With(slog.String("component", "sink"))
}

func (s *Sink) Push(ctx context.Context, host string, doc *report.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("host", host).
		SetBody(body).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("post to %s: %w", s.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post to %s: unexpected status %d: %s", s.url, resp.StatusCode(), resp.String())
	}

	s.log().Info("document pushed",
		slog.String("host", host),
		slog.Int("status", resp.StatusCode()),
		slog.Int("bytes", len(body)),
	)
	return nil
}
