package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

const DataBanner = "=== MONITORING QUERIES DATA ==="

type Printer struct {
	w       io.Writer
	details bool
}

// NewPrinter writes summaries to w. With details set, each section carries the
// extra fields (LSNs, queries, slots) and an analysis block is appended.
func NewPrinter(w io.Writer, details bool) *Printer {
	return &Printer{w: w, details: details}
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// Print renders every section present in doc, in a fixed order.
func (p *Printer) Print(doc *Document) {
	if doc == nil {
		return
	}
	p.printf("%s\n", DataBanner)

	p.activeSessions(doc)
	p.replicationStatus(doc)
	if p.details {
		p.replicationSlots(doc)
	}
	p.waitEventSummary(doc)
	p.blockedSessions(doc)
	p.walReceiverStatus(doc)

	if p.details {
		p.analysis(doc)
	}
}

func (p *Printer) activeSessions(doc *Document) {
	if !doc.HasSection(KeyActiveSessions) {
		return
	}
	p.printf("\nActive Sessions: %d found\n", len(doc.ActiveSessions))
	for _, s := range doc.ActiveSessions {
		p.printf("  PID %d: %s/%s - %.2fs\n", s.PID, s.WaitEventType, s.WaitEvent, s.Duration)
		if p.details && s.Query != "" {
			p.printf("    Query: %s\n", oneLine(s.Query))
		}
	}
}

func (p *Printer) replicationStatus(doc *Document) {
	if !doc.HasSection(KeyReplicationStatus) {
		return
	}
	p.printf("\nReplication Status: %d connections\n", len(doc.ReplicationStatus))
	for i := range doc.ReplicationStatus {
		r := &doc.ReplicationStatus[i]
		p.printf("  PID %d: %s - %s\n", r.PID, r.State, r.ApplicationName)
		if !p.details {
			continue
		}
		p.printf("    Client: %s, Sent LSN: %s, Write LSN: %s, Flush LSN: %s, Replay LSN: %s\n",
			orDash(r.ClientAddr), lsnOrDash(r.SentLSN), lsnOrDash(r.WriteLSN),
			lsnOrDash(r.FlushLSN), lsnOrDash(r.ReplayLSN))
		if lag, ok := r.ReplayLag(); ok {
			p.printf("    Replay lag: %s\n", humanize.IBytes(lag))
		}
	}
}

func (p *Printer) replicationSlots(doc *Document) {
	if !doc.HasSection(KeyReplicationSlots) {
		return
	}
	p.printf("\nReplication Slots: %d found\n", len(doc.ReplicationSlots))
	for i := range doc.ReplicationSlots {
		s := &doc.ReplicationSlots[i]
		p.printf("  Slot %s: %s/%s, active: %t\n", s.SlotName, s.SlotType, orDash(s.Plugin), s.Active)
		p.printf("    Restart LSN: %s, Confirmed Flush LSN: %s\n",
			lsnOrDash(s.RestartLSN), lsnOrDash(s.ConfirmedFlushLSN))
		if held, ok := s.SlotRetained(); ok {
			p.printf("    Retained: %s\n", humanize.IBytes(held))
		}
	}
}

func (p *Printer) waitEventSummary(doc *Document) {
	if !doc.HasSection(KeyWaitEventSummary) {
		return
	}
	p.printf("\nWait Event Summary: %d types\n", len(doc.WaitEventSummary))
	for _, w := range doc.WaitEventSummary {
		p.printf("  %s/%s: %d sessions\n", w.WaitEventType, w.WaitEvent, w.Sessions)
	}
}

func (p *Printer) blockedSessions(doc *Document) {
	if !doc.HasSection(KeyBlockedSessions) {
		return
	}
	p.printf("\nBlocked Sessions: %d found\n", len(doc.BlockedSessions))
	for _, b := range doc.BlockedSessions {
		p.printf("  PID %d blocked by PIDs: %s\n", b.BlockedPID, FormatPIDs(b.BlockingPIDs))
		if p.details {
			p.printf("    Wait Event: %s/%s, Query: %s\n", b.WaitEventType, b.WaitEvent, oneLine(b.BlockedQuery))
		}
	}
}

func (p *Printer) walReceiverStatus(doc *Document) {
	if !doc.HasSection(KeyWALReceiverStatus) {
		return
	}
	w := doc.WALReceiverStatus
	p.printf("\nWAL Receiver: PID %d - %s\n", w.PID, w.Status)
	if !p.details {
		return
	}
	p.printf("  Slot: %s, Receive Start LSN: %s, Received LSN: %s\n",
		orDash(w.SlotName), lsnOrDash(w.ReceiveStartLSN), lsnOrDash(w.ReceivedLSN))
	p.printf("  Latency: %d microseconds\n", w.Latency)
	if n, ok := w.ReceivedSinceStart(); ok {
		p.printf("  Received since start: %s\n", humanize.IBytes(n))
	}
}

func (p *Printer) analysis(doc *Document) {
	p.printf("\n=== ANALYSIS ===\n")

	longest := LongestWaiting(doc, 5)
	if len(longest) > 0 {
		p.printf("Longest waiting sessions:\n")
		for _, s := range longest {
			p.printf("  PID %d: %.2fs (%s/%s)\n", s.PID, s.Duration, s.WaitEventType, s.WaitEvent)
		}
	}
	for _, line := range ReplicationStates(doc) {
		p.printf("%s\n", line)
	}
	for _, line := range BlockingChains(doc) {
		p.printf("%s\n", line)
	}
	if doc.Meta != nil {
		p.printf("Schema version: %s, collected at: %s, databases: %s\n",
			orDash(doc.Meta.Version), CollectedAt(doc.Meta), strings.Join(doc.Meta.CollectedDBs, ", "))
	}
}

// FormatPIDs renders a pid list as "[1, 2, 3]".
func FormatPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func lsnOrDash(s string) string {
	if s == "" {
		return "-"
	}
	if n, err := NormalizeLSN(s); err == nil {
		return n
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
