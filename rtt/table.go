// Package rtt correlates request send times with response receive times and
// derives latency statistics from the completed pairs.
package rtt

import (
	"sync"
	"time"

	"udpbench/protocol"
)

// PacketRecord holds the timestamps of one session, in microseconds since the
// Unix epoch. Zero means the side has not been seen yet.
type PacketRecord struct {
	SessionID    protocol.SessionID
	SentTime     int64
	ReceivedTime int64
}

// Complete reports whether both timestamps are set.
func (r PacketRecord) Complete() bool {
	return r.SentTime != 0 && r.ReceivedTime != 0
}

// RTT is ReceivedTime - SentTime in microseconds. Only meaningful when Complete.
func (r PacketRecord) RTT() int64 {
	return r.ReceivedTime - r.SentTime
}

// Recorder is what sender and receiver workers need from a table.
type Recorder interface {
	RecordSend(id protocol.SessionID, ts int64)
	RecordReceive(id protocol.SessionID, ts int64)
}

// Table is safe for concurrent use. Records keep insertion order; lookups go
// through an index so cost does not grow with run length.
type Table struct {
	mu      sync.Mutex
	records []PacketRecord
	index   map[protocol.SessionID]int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{index: make(map[protocol.SessionID]int)}
}

// RecordSend sets the sent time of id, inserting a record if needed.
func (t *Table) RecordSend(id protocol.SessionID, ts int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index[id]; ok {
		t.records[i].SentTime = ts
		return
	}
	t.insert(PacketRecord{SessionID: id, SentTime: ts})
}

// RecordReceive sets the received time of id, inserting a record if needed.
func (t *Table) RecordReceive(id protocol.SessionID, ts int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index[id]; ok {
		t.records[i].ReceivedTime = ts
		return
	}
	t.insert(PacketRecord{SessionID: id, ReceivedTime: ts})
}

func (t *Table) insert(r PacketRecord) {
	if t.index == nil {
		t.index = make(map[protocol.SessionID]int)
	}
	t.index[r.SessionID] = len(t.records)
	t.records = append(t.records, r)
}

// Snapshot returns the RTT of every complete record in insertion order.
func (t *Table) Snapshot() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	rtts := make([]int64, 0, len(t.records))
	for _, r := range t.records {
		if !r.Complete() {
			continue
		}
		rtts = append(rtts, r.RTT())
	}
	return rtts
}

// Records returns a copy of all records.
func (t *Table) Records() []PacketRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]PacketRecord(nil), t.records...)
}

// Len is the number of records, complete or not.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.records)
}

// Reset drops all records so the table can serve another run.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = nil
	t.index = make(map[protocol.SessionID]int)
}

// Now returns the current wall-clock time in the table's unit.
func Now() int64 {
	return time.Now().UnixMicro()
}
