package report

import (
	"fmt"
	"sort"
	"time"
)

// LongestWaiting returns up to n active sessions ordered by duration, longest first.
func LongestWaiting(doc *Document, n int) []ActiveSession {
	if doc == nil || len(doc.ActiveSessions) == 0 || n <= 0 {
		return nil
	}
	sessions := make([]ActiveSession, len(doc.ActiveSessions))
	copy(sessions, doc.ActiveSessions)
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Duration > sessions[j].Duration
	})
	if n > len(sessions) {
		n = len(sessions)
	}
	return sessions[:n]
}

func ReplicationStates(doc *Document) []string {
	if doc == nil || len(doc.ReplicationStatus) == 0 {
		return nil
	}
	lines := make([]string, 0, len(doc.ReplicationStatus))
	for _, r := range doc.ReplicationStatus {
		if r.State == "streaming" {
			lines = append(lines, fmt.Sprintf("Replication connection %d is streaming", r.PID))
		} else {
			lines = append(lines, fmt.Sprintf("Replication connection %d is in state: %s", r.PID, r.State))
		}
	}
	return lines
}

func BlockingChains(doc *Document) []string {
	if doc == nil || len(doc.BlockedSessions) == 0 {
		return nil
	}
	lines := []string{"Blocking chains detected:"}
	for _, b := range doc.BlockedSessions {
		lines = append(lines, fmt.Sprintf("  Session %d is blocked by sessions: %s", b.BlockedPID, FormatPIDs(b.BlockingPIDs)))
	}
	return lines
}

// CollectedAt formats the collection timestamp (unix seconds) in UTC.
func CollectedAt(m *Metadata) string {
	if m == nil || m.At <= 0 {
		return "-"
	}
	return time.Unix(m.At, 0).UTC().Format(time.RFC3339)
}
