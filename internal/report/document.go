package report

import (
	"bytes"
	"encoding/json"
)

// Top-level keys of the collector's JSON output.
const (
	KeyMeta              = "meta"
	KeyActiveSessions    = "active_sessions"
	KeyReplicationStatus = "replication_status"
	KeyReplicationSlots  = "replication_slots"
	KeyWaitEventSummary  = "wait_event_summary"
	KeyBlockedSessions   = "blocked_sessions"
	KeyWALReceiverStatus = "wal_receiver_status"
)

type Metadata struct {
	Version      string   `json:"version"`
	At           int64    `json:"at"`
	CollectedDBs []string `json:"collected_dbs"`
}

type ActiveSession struct {
	PID           int     `json:"pid"`
	WaitEventType string  `json:"wait_event_type"`
	WaitEvent     string  `json:"wait_event"`
	Query         string  `json:"query"`
	State         string  `json:"state"`
	Duration      float64 `json:"duration"`
}

type ReplicationStatus struct {
	PID             int    `json:"pid"`
	State           string `json:"state"`
	ApplicationName string `json:"application_name"`
	ClientAddr      string `json:"client_addr"`
	BackendStart    int64  `json:"backend_start"`
	SentLSN         string `json:"sent_lsn"`
	WriteLSN        string `json:"write_lsn"`
	FlushLSN        string `json:"flush_lsn"`
	ReplayLSN       string `json:"replay_lsn"`
}

type ReplicationSlot struct {
	SlotName          string `json:"slot_name"`
	Plugin            string `json:"plugin"`
	SlotType          string `json:"slot_type"`
	Active            bool   `json:"active"`
	RestartLSN        string `json:"restart_lsn"`
	ConfirmedFlushLSN string `json:"confirmed_flush_lsn"`
}

type WaitEventSummary struct {
	WaitEventType string `json:"wait_event_type"`
	WaitEvent     string `json:"wait_event"`
	Sessions      int    `json:"sessions"`
}

type BlockedSession struct {
	BlockedPID    int    `json:"blocked_pid"`
	WaitEventType string `json:"wait_event_type"`
	WaitEvent     string `json:"wait_event"`
	BlockedQuery  string `json:"blocked_query"`
	BlockingPIDs  []int  `json:"blocking_pids"`
}

type WALReceiverStatus struct {
	PID                int    `json:"pid"`
	Status             string `json:"status"`
	ReceiveStartLSN    string `json:"receive_start_lsn"`
	ReceiveStartTLI    int    `json:"receive_start_tli"`
	ReceivedLSN        string `json:"received_lsn"`
	ReceivedTLI        int    `json:"received_tli"`
	LastMsgSendTime    int64  `json:"last_msg_send_time"`
	LastMsgReceiptTime int64  `json:"last_msg_receipt_time"`
	Latency            int64  `json:"latency"`
	LatestEndLSN       string `json:"latest_end_lsn"`
	LatestEndTime      int64  `json:"latest_end_time"`
	SlotName           string `json:"slot_name"`
	Conninfo           string `json:"conninfo"`
}

// Document is the collector's result. Only the sections the report knows about
// are typed; the full raw value is kept so it can be saved or forwarded as-is.
//
// No schema is enforced: a field of an unexpected type decodes as its zero
// value, and a known key whose value has the wrong shape (e.g. an object where
// an array is expected) is not treated as a section.
type Document struct {
	Meta              *Metadata
	ActiveSessions    []ActiveSession
	ReplicationStatus []ReplicationStatus
	ReplicationSlots  []ReplicationSlot
	WaitEventSummary  []WaitEventSummary
	BlockedSessions   []BlockedSession
	WALReceiverStatus *WALReceiverStatus

	raw      map[string]json.RawMessage
	other    json.RawMessage
	sections map[string]bool
}

// Decode parses the collector output. Only invalid JSON is an error.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Has reports whether key was present in the document with a non-null value.
func (d *Document) Has(key string) bool {
	if d == nil {
		return false
	}
	_, ok := d.raw[key]
	return ok
}

// HasSection reports whether a known section was present with a usable shape.
func (d *Document) HasSection(key string) bool {
	if d == nil {
		return false
	}
	return d.sections[key]
}

// Keys returns the number of non-null top-level keys.
func (d *Document) Keys() int {
	if d == nil {
		return 0
	}
	return len(d.raw)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		// valid JSON, but not an object: nothing to summarize
		if !bytes.Equal(trimmed, []byte("null")) {
			d.other = append(json.RawMessage(nil), trimmed...)
		}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			delete(raw, k)
		}
	}

	sections := []struct {
		key   string
		shape byte
		dst   any
	}{
		{KeyMeta, '{', &d.Meta},
		{KeyActiveSessions, '[', &d.ActiveSessions},
		{KeyReplicationStatus, '[', &d.ReplicationStatus},
		{KeyReplicationSlots, '[', &d.ReplicationSlots},
		{KeyWaitEventSummary, '[', &d.WaitEventSummary},
		{KeyBlockedSessions, '[', &d.BlockedSessions},
		{KeyWALReceiverStatus, '{', &d.WALReceiverStatus},
	}
	d.sections = make(map[string]bool, len(sections))
	for _, s := range sections {
		v, ok := raw[s.key]
		if !ok {
			continue
		}
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != s.shape {
			continue
		}
		// records never fail to decode, see the record unmarshalers below
		if err := json.Unmarshal(v, s.dst); err != nil {
			continue
		}
		d.sections[s.key] = true
	}

	d.raw = raw
	return nil
}

// MarshalJSON writes back the document as it was received (null-valued keys excluded).
func (d *Document) MarshalJSON() ([]byte, error) {
	if d.other != nil {
		return d.other, nil
	}
	if d.raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.raw)
}

// record fields

func rawObject(data []byte) map[string]json.RawMessage {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

// field decodes raw[name] into dst, leaving dst untouched when the key is
// missing or the value has another type.
func field[T any](raw map[string]json.RawMessage, name string, dst *T) {
	v, ok := raw[name]
	if !ok {
		return
	}
	var tmp T
	if err := json.Unmarshal(v, &tmp); err != nil {
		return
	}
	*dst = tmp
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	raw := rawObject(data)
	field(raw, "version", &m.Version)
	field(raw, "at", &m.At)
	field(raw, "collected_dbs", &m.CollectedDBs)
	return nil
}

func (s *ActiveSession) UnmarshalJSON(data []byte) error {
	raw := rawObject(data)
	field(raw, "pid", &s.PID)
	field(raw, "wait_event_type", &s.WaitEventType)
	field(raw, "wait_event", &s.WaitEvent)
	field(raw, "query", &s.Query)
	field(raw, "state", &s.State)
	field(raw, "duration", &s.Duration)
	return nil
}

func (r *ReplicationStatus) UnmarshalJSON(data []byte) error {
	raw := rawObject(data)
	field(raw, "pid", &r.PID)
	field(raw, "state", &r.State)
	field(raw, "application_name", &r.ApplicationName)
	field(raw, "client_addr", &r.ClientAddr)
	field(raw, "backend_start", &r.BackendStart)
	field(raw, "sent_lsn", &r.SentLSN)
	field(raw, "write_lsn", &r.WriteLSN)
	field(raw, "flush_lsn", &r.FlushLSN)
	field(raw, "replay_lsn", &r.ReplayLSN)
	return nil
}

func (s *ReplicationSlot) UnmarshalJSON(data []byte) error {
	raw := rawObject(data)
	field(raw, "slot_name", &s.SlotName)
	field(raw, "plugin", &s.Plugin)
	field(raw, "slot_type", &s.SlotType)
	field(raw, "active", &s.Active)
	field(raw, "restart_lsn", &s.RestartLSN)
	field(raw, "confirmed_flush_lsn", &s.ConfirmedFlushLSN)
	return nil
}

func (w *WaitEventSummary) UnmarshalJSON(data []byte) error {
	raw := rawObject(data)
	field(raw, "wait_event_type", &w.WaitEventType)
	field(raw, "wait_event", &w.WaitEvent)
	field(raw, "sessions", &w.Sessions)
	return nil
}

func (b *BlockedSession) UnmarshalJSON(data []byte) error {
	raw := rawObject(data)
	field(raw, "blocked_pid", &b.BlockedPID)
	field(raw, "wait_event_type", &b.WaitEventType)
	field(raw, "wait_event", &b.WaitEvent)
	field(raw, "blocked_query", &b.BlockedQuery)
	field(raw, "blocking_pids", &b.BlockingPIDs)
	return nil
}

func (w *WALReceiverStatus) UnmarshalJSON(data []byte) error {
	raw := rawObject(data)
	field(raw, "pid", &w.PID)
	field(raw, "status", &w.Status)
	field(raw, "receive_start_lsn", &w.ReceiveStartLSN)
	field(raw, "receive_start_tli", &w.ReceiveStartTLI)
	field(raw, "received_lsn", &w.ReceivedLSN)
	field(raw, "received_tli", &w.ReceivedTLI)
	field(raw, "last_msg_send_time", &w.LastMsgSendTime)
	field(raw, "last_msg_receipt_time", &w.LastMsgReceiptTime)
	field(raw, "latency", &w.Latency)
	field(raw, "latest_end_lsn", &w.LatestEndLSN)
	field(raw, "latest_end_time", &w.LatestEndTime)
	field(raw, "slot_name", &w.SlotName)
	field(raw, "conninfo", &w.Conninfo)
	return nil
}
