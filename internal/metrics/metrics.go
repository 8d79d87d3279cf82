package metrics

import (
	"fmt"
	"time"

	"github.com/hashmap-kz/pgmreport/internal/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exporter keeps the outcome of the last report run and writes it as a
// Prometheus text file (for the node_exporter textfile collector).
type Exporter struct {
	path string
	reg  *prometheus.Registry

	collectSuccess  prometheus.Gauge
	collectDuration prometheus.Gauge
	lastRun         prometheus.Gauge
	runs            *prometheus.CounterVec
	sectionRecords  *prometheus.GaugeVec
	blockedSessions prometheus.Gauge
	replicationLag  *prometheus.GaugeVec
	walReceiverUp   prometheus.Gauge
}

func NewExporter(path, host string) *Exporter {
	reg := prometheus.NewRegistry()
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"host": host}, reg))

	return &Exporter{
		path: path,
		reg:  reg,

		collectSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "pgmreport_collect_success",
			Help: "Whether the last collector run succeeded (1) or failed (0).",
		}),
		collectDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "pgmreport_collect_duration_seconds",
			Help: "Duration of the last collector run.",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "pgmreport_last_run_timestamp_seconds",
			Help: "Unix time of the last collector run.",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pgmreport_runs_total",
			Help: "Collector runs, partitioned by result.",
		}, []string{"result"}),
		sectionRecords: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pgmreport_section_records",
			Help: "Number of records in each report section of the last successful run.",
		}, []string{"section"}),
		blockedSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "pgmreport_blocked_sessions",
			Help: "Sessions blocked by other sessions in the last successful run.",
		}),
		replicationLag: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pgmreport_replication_lag_bytes",
			Help: "Replay lag (sent - replay LSN) per replication connection.",
		}, []string{"application_name", "pid"}),
		walReceiverUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "pgmreport_wal_receiver_streaming",
			Help: "Whether the WAL receiver reported status 'streaming' (standby only).",
		}),
	}
}

// Observe records one run. On failure only the outcome gauges change, the
// section gauges keep the values of the last successful run.
func (e *Exporter) Observe(doc *report.Document, elapsed time.Duration, runErr error) {
	e.collectDuration.Set(elapsed.Seconds())
	e.lastRun.SetToCurrentTime()

	if runErr != nil || doc == nil {
		e.collectSuccess.Set(0)
		e.runs.WithLabelValues("failure").Inc()
		return
	}
	e.collectSuccess.Set(1)
	e.runs.WithLabelValues("success").Inc()

	e.sectionRecords.Reset()
	e.sectionRecords.WithLabelValues(report.KeyActiveSessions).Set(float64(len(doc.ActiveSessions)))
	e.sectionRecords.WithLabelValues(report.KeyReplicationStatus).Set(float64(len(doc.ReplicationStatus)))
	e.sectionRecords.WithLabelValues(report.KeyReplicationSlots).Set(float64(len(doc.ReplicationSlots)))
	e.sectionRecords.WithLabelValues(report.KeyWaitEventSummary).Set(float64(len(doc.WaitEventSummary)))
	e.sectionRecords.WithLabelValues(report.KeyBlockedSessions).Set(float64(len(doc.BlockedSessions)))
	e.blockedSessions.Set(float64(len(doc.BlockedSessions)))

	e.replicationLag.Reset()
	for i := range doc.ReplicationStatus {
		r := &doc.ReplicationStatus[i]
		if lag, ok := r.ReplayLag(); ok {
			e.replicationLag.WithLabelValues(r.ApplicationName, fmt.Sprint(r.PID)).Set(float64(lag))
		}
	}

	if doc.WALReceiverStatus != nil && doc.WALReceiverStatus.Status == "streaming" {
		e.walReceiverUp.Set(1)
	} else {
		e.walReceiverUp.Set(0)
	}
}

// Write atomically replaces the text file with the current values.
func (e *Exporter) Write() error {
	if err := prometheus.WriteToTextfile(e.path, e.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", e.path, err)
	}
	return nil
}
