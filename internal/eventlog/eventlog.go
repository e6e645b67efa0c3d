// Package eventlog is the append-only, externally-replayable record of
// every state change the core emits, in strict commit order. It is a
// separate store from the transactional bbolt state (internal/store): a
// LevelDB-backed sequence feed for external indexers and dashboards.
package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// Kind names the emitted event types.
type Kind string

const (
	Submitted          Kind = "Submitted"
	Finalized          Kind = "Finalized"
	ClaimDisputed      Kind = "ClaimDisputed"
	ForceFinalized     Kind = "ForceFinalized"
	SnapshotCreated    Kind = "SnapshotCreated"
	RewardsDistributed Kind = "RewardsDistributed"
	FaultRecorded      Kind = "FaultRecorded"
	Slashed            Kind = "Slashed"
)

// Event is one emitted event, carrying a monotonically increasing sequence
// number so consumers can detect gaps or reorder-proof their own view.
type Event struct {
	Seq     uint64         `json:"seq"`
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Log is an append-only, ordered event feed backed by LevelDB. It also
// fans out every appended event to live subscribers (the websocket API),
// so a dashboard never has to poll.
type Log struct {
	db  *leveldb.DB
	seq uint64

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// Open opens (creating if necessary) a LevelDB event log at path.
func Open(path string) (*Log, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	l := &Log{db: db, subs: make(map[chan Event]struct{})}
	l.seq = l.lastSeq()
	return l, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) lastSeq() uint64 {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()
	var max uint64
	for iter.Next() {
		if len(iter.Key()) != 8 {
			continue
		}
		if v := binary.BigEndian.Uint64(iter.Key()); v > max {
			max = v
		}
	}
	return max
}

// Append appends a new event of the given kind, assigning it the next
// sequence number, and returns the stored record.
func (l *Log) Append(kind Kind, payload map[string]any) (Event, error) {
	l.seq++
	ev := Event{Seq: l.seq, Kind: kind, Payload: payload}
	data, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: marshal: %w", err)
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], ev.Seq)
	if err := l.db.Put(key[:], data, nil); err != nil {
		return Event{}, fmt.Errorf("eventlog: put: %w", err)
	}
	l.broadcast(ev)
	return ev, nil
}

// Subscribe registers a new live-event channel. The caller must drain it
// (and call Unsubscribe): the channel buffers 64 events, and an event
// appended while it is full is dropped for that subscriber rather than
// blocking Append.
func (l *Log) Subscribe() chan Event {
	ch := make(chan Event, 64)
	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (l *Log) Unsubscribe(ch chan Event) {
	l.subMu.Lock()
	if _, ok := l.subs[ch]; ok {
		delete(l.subs, ch)
		close(ch)
	}
	l.subMu.Unlock()
}

func (l *Log) broadcast(ev Event) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- ev:
		default: // slow subscriber: drop rather than block Append
		}
	}
}

// Since returns every event with Seq > after, in order. Used by the
// websocket API (internal/api) to replay history to newly connected
// dashboards before streaming live events.
func (l *Log) Since(after uint64) ([]Event, error) {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()
	var out []Event
	for iter.Next() {
		var ev Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("eventlog: unmarshal: %w", err)
		}
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate: %w", err)
	}
	return out, nil
}
