package report

import (
	"fmt"

	"github.com/jackc/pglogrepl"
)

// lsnDiff returns ahead - behind in bytes. Empty or malformed positions, and a
// "behind" position past "ahead", give ok == false.
func lsnDiff(ahead, behind string) (uint64, bool) {
	if ahead == "" || behind == "" {
		return 0, false
	}
	a, err := pglogrepl.ParseLSN(ahead)
	if err != nil {
		return 0, false
	}
	b, err := pglogrepl.ParseLSN(behind)
	if err != nil {
		return 0, false
	}
	if b > a {
		return 0, false
	}
	return uint64(a - b), true
}

// ReplayLag is the distance between what the primary sent and what the standby replayed.
func (r *ReplicationStatus) ReplayLag() (uint64, bool) {
	return lsnDiff(r.SentLSN, r.ReplayLSN)
}

// SlotRetained is the WAL a logical slot still holds between restart and confirmed flush.
func (s *ReplicationSlot) SlotRetained() (uint64, bool) {
	return lsnDiff(s.ConfirmedFlushLSN, s.RestartLSN)
}

// ReceivedSinceStart is how much WAL the receiver has written since it started streaming.
func (w *WALReceiverStatus) ReceivedSinceStart() (uint64, bool) {
	return lsnDiff(w.ReceivedLSN, w.ReceiveStartLSN)
}

// NormalizeLSN reformats an LSN the way the server prints it ("0/16B3748").
func NormalizeLSN(s string) (string, error) {
	lsn, err := pglogrepl.ParseLSN(s)
	if err != nil {
		return "", fmt.Errorf("invalid lsn %q: %w", s, err)
	}
	return lsn.String(), nil
}
