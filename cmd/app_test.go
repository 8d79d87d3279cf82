package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashmap-kz/pgmreport/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

type fakeRunner struct {
	mu     sync.Mutex
	stdout string
	stderr string
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func runApp(t *testing.T, r *fakeRunner, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(&appDeps{stdout: &out, runner: r})
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}

	err := app.Run(context.Background(), append([]string{"pgmreport", "--log-level", "error"}, args...))
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ec cli.ExitCoder
	require.ErrorAs(t, err, &ec)
	return ec.ExitCode()
}

func TestApp_WrongArgCount(t *testing.T) {
	for _, args := range [][]string{nil, {"db1", "db2"}} {
		r := &fakeRunner{stdout: `{}`}

		out, err := runApp(t, r, args...)

		assert.Equal(t, 1, exitCode(t, err))
		assert.Contains(t, out, "Usage: pgmreport [flags] <host>")
		assert.Empty(t, r.calls)
	}
}

func TestApp_InvokesCollectorWithHostOnly(t *testing.T) {
	r := &fakeRunner{stdout: `{"active_sessions":[{"pid":1,"wait_event_type":"Lock","wait_event":"transactionid","duration":2.5}]}`}

	out, err := runApp(t, r, "psql-infra-eastus-qa")
	require.NoError(t, err)

	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"pgmetrics", "--format", "json", "--host", "psql-infra-eastus-qa"}, r.calls[0])

	assert.Contains(t, out, "Running pgmetrics with JSON format for host: psql-infra-eastus-qa\n")
	assert.Contains(t, out, "Active Sessions: 1 found\n")
	assert.Contains(t, out, "  PID 1: Lock/transactionid - 2.50s\n")
	assert.Contains(t, out, "\n=== SUCCESS ===\n")
	assert.NotContains(t, out, "FAILED")
}

func TestApp_CollectorFromFlag(t *testing.T) {
	r := &fakeRunner{stdout: `{}`}

	_, err := runApp(t, r, "--collector", "/usr/local/bin/pgmetrics", "db1")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/pgmetrics", r.calls[0][0])
}

func TestApp_ProcessFailure(t *testing.T) {
	r := &fakeRunner{
		stderr: "pgmetrics: failed to connect to host db1",
		err:    errors.New("exit status 1"),
	}

	out, err := runApp(t, r, "db1")
	require.NoError(t, err, "collection failure keeps exit code 0 by default")

	assert.Contains(t, out, "Error running pgmetrics:")
	assert.Contains(t, out, "stderr: pgmetrics: failed to connect to host db1\n")
	assert.Contains(t, out, "\n=== FAILED ===\n")
	assert.NotContains(t, out, "MONITORING QUERIES DATA")
	assert.NotContains(t, out, "SUCCESS")
}

func TestApp_FailOnError(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1")}

	_, err := runApp(t, r, "--fail-on-error", "db1")
	assert.Equal(t, exitCollectFailed, exitCode(t, err))
}

func TestApp_DecodeFailure(t *testing.T) {
	r := &fakeRunner{stdout: "pgmetrics run on db1 in 120ms\n"}

	out, err := runApp(t, r, "db1")
	require.NoError(t, err)

	assert.Contains(t, out, "Error parsing JSON:")
	assert.Contains(t, out, "stdout: pgmetrics run on db1 in 120ms\n")
	assert.Contains(t, out, "\n=== FAILED ===\n")
}

func TestApp_LooseFieldTypesStillSucceed(t *testing.T) {
	r := &fakeRunner{stdout: `{
	  "active_sessions": [{"pid": 1, "wait_event_type": "Lock", "wait_event": "transactionid", "duration": 2.5}],
	  "replication_status": [{"pid": 7, "state": "streaming", "application_name": "r1", "backend_start": "2024-01-01T00:00:00Z"}],
	  "wal_receiver_status": {"pid": 99, "status": "streaming", "latency": "1ms"},
	  "meta": {"at": "yesterday"}
	}`}

	out, err := runApp(t, r, "db1")
	require.NoError(t, err)

	assert.NotContains(t, out, "Error parsing JSON")
	assert.Contains(t, out, "Active Sessions: 1 found\n")
	assert.Contains(t, out, "  PID 7: streaming - r1\n")
	assert.Contains(t, out, "WAL Receiver: PID 99 - streaming\n")
	assert.Contains(t, out, "\n=== SUCCESS ===\n")
}

func TestApp_ValidJSONNotAnObject(t *testing.T) {
	r := &fakeRunner{stdout: `[1]`}

	out, err := runApp(t, r, "--fail-on-error", "db1")
	require.NoError(t, err)
	assert.NotContains(t, out, "Error parsing JSON")
	assert.Contains(t, out, "\n=== SUCCESS ===\n")
}

func TestApp_EmptyHostAfterDoubleDash(t *testing.T) {
	r := &fakeRunner{stdout: `{}`}

	_, err := runApp(t, r, "--", "")
	require.NoError(t, err)
	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"pgmetrics", "--format", "json", "--host", ""}, r.calls[0])
}

func TestApp_NoKnownKeysOnlyBanners(t *testing.T) {
	r := &fakeRunner{stdout: `{"settings": {}}`}

	out, err := runApp(t, r, "db1")
	require.NoError(t, err)

	for _, header := range []string{"Active Sessions", "Replication Status", "Wait Event Summary", "Blocked Sessions", "WAL Receiver"} {
		assert.NotContains(t, out, header)
	}
	assert.Contains(t, out, "Running pgmetrics with JSON format for host: db1")
	assert.Contains(t, out, "\n=== SUCCESS ===\n")
}

func TestApp_SaveJSONAndMetrics(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "pgmetrics_output.json")
	promPath := filepath.Join(dir, "pgmreport.prom")
	r := &fakeRunner{stdout: `{"wal_receiver_status": {"pid": 99, "status": "streaming"}, "meta": {"version": "1.18"}}`}

	out, err := runApp(t, r, "--save-json", jsonPath, "--metrics-textfile", promPath, "db1")
	require.NoError(t, err)
	assert.Contains(t, out, "Full JSON output saved to "+jsonPath)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"wal_receiver_status": {"pid": 99, "status": "streaming"}, "meta": {"version": "1.18"}}`, string(data))

	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `pgmreport_collect_success{host="db1"} 1`)
	assert.Contains(t, string(prom), `pgmreport_wal_receiver_streaming{host="db1"} 1`)
}

func TestApp_FailureWritesMetricsButNoJSON(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.json")
	promPath := filepath.Join(dir, "pgmreport.prom")
	r := &fakeRunner{err: errors.New("exit status 1")}

	_, err := runApp(t, r, "--save-json", jsonPath, "--metrics-textfile", promPath, "db1")
	require.NoError(t, err)

	assert.NoFileExists(t, jsonPath)
	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `pgmreport_collect_success{host="db1"} 0`)
}

func TestApp_Sink(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got.Store(r.URL.Query().Get("host") + " " + string(data))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := &fakeRunner{stdout: `{"blocked_sessions": []}`}
	_, err := runApp(t, r, "--sink-url", srv.URL, "db1")
	require.NoError(t, err)

	assert.Equal(t, `db1 {"blocked_sessions":[]}`, got.Load())
}

func TestApp_SinkFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := &fakeRunner{stdout: `{}`}
	out, err := runApp(t, r, "--sink-url", srv.URL, "--fail-on-error", "db1")
	require.NoError(t, err)
	assert.Contains(t, out, "=== SUCCESS ===")
}

func TestApp_InvalidConfig(t *testing.T) {
	r := &fakeRunner{stdout: `{}`}

	_, err := runApp(t, r, "--log-format", "xml", "--timeout", "soon", "db1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format must be text or json")
	assert.Contains(t, err.Error(), "collector.timeout cannot parse")
	assert.Empty(t, r.calls)
}

func TestApp_ConfigFile(t *testing.T) {
	t.Setenv("PGMREPORT_TEST_BIN", "/opt/bin/pgmetrics")
	path := filepath.Join(t.TempDir(), "pgmreport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"collector:",
		"  path: ${PGMREPORT_TEST_BIN}",
		"output:",
		"  details: true",
	}, "\n")), 0o600))

	r := &fakeRunner{stdout: `{"replication_slots": [{"slot_name": "s1", "slot_type": "physical"}]}`}
	out, err := runApp(t, r, "-c", path, "db1")
	require.NoError(t, err)

	assert.Equal(t, "/opt/bin/pgmetrics", r.calls[0][0])
	assert.Contains(t, out, "Running /opt/bin/pgmetrics with JSON format for host: db1")
	assert.Contains(t, out, "Replication Slots: 1 found")
	assert.Contains(t, out, "=== ANALYSIS ===")
}

func TestApp_ConfigTemplate(t *testing.T) {
	r := &fakeRunner{}

	out, err := runApp(t, r, "--config-template")
	require.NoError(t, err)
	assert.Empty(t, r.calls)
	assert.Contains(t, out, "collector:\n  path: pgmetrics\n")

	path := filepath.Join(t.TempDir(), "pgmreport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))
	t.Setenv("PGMREPORT_SINK_TOKEN", "secret")

	cfg, err := config.Load(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "secret", cfg.Sink.Token)
	assert.Equal(t, 2*time.Minute, cfg.Collector.TimeoutParsed)
	assert.NotNil(t, cfg.ScheduleParsed)
}

type everySchedule time.Duration

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}

func TestRunScheduled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- runScheduled(ctx, everySchedule(20*time.Millisecond), func(context.Context) {
			if runs.Add(1) == 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}
