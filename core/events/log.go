package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"disputepay/storage"
)

var (
	logNextKey   = []byte("eventlog/next")
	logRecPrefix = "eventlog/rec/"
)

// Log is an append-only, ordered record of every state transition. Records
// are kept in memory for cheap ordered reads and written through to the
// backing database so consumers can reconcile state across restarts.
type Log struct {
	mu      sync.RWMutex
	db      storage.Database
	records []*Record
	next    uint64
}

// NewLog opens the event log on top of the given database and replays any
// persisted records into memory.
func NewLog(db storage.Database) (*Log, error) {
	l := &Log{db: db}
	if db == nil {
		return l, nil
	}
	raw, err := db.Get(logNextKey)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return l, nil
		}
		return nil, fmt.Errorf("event log: read sequence: %w", err)
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("event log: corrupt sequence marker")
	}
	next := binary.BigEndian.Uint64(raw)
	l.records = make([]*Record, 0, next)
	for seq := uint64(0); seq < next; seq++ {
		data, err := db.Get(recordKey(seq))
		if err != nil {
			return nil, fmt.Errorf("event log: read record %d: %w", seq, err)
		}
		rec := &Record{}
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, fmt.Errorf("event log: decode record %d: %w", seq, err)
		}
		l.records = append(l.records, rec)
	}
	l.next = next
	return l, nil
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(logRecPrefix)+8)
	copy(key, logRecPrefix)
	binary.BigEndian.PutUint64(key[len(logRecPrefix):], seq)
	return key
}

// Append assigns the next sequence number and a unique id to the record,
// persists it and makes it visible to readers. The input record is not
// retained.
func (l *Log) Append(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("event log: nil record")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	clone := rec.Clone()
	clone.Sequence = l.next
	clone.ID = uuid.NewString()
	if l.db != nil {
		data, err := json.Marshal(clone)
		if err != nil {
			return fmt.Errorf("event log: encode record: %w", err)
		}
		if err := l.db.Put(recordKey(clone.Sequence), data); err != nil {
			return fmt.Errorf("event log: write record: %w", err)
		}
		var seqBuf [8]byte
		binary.BigEndian.PutUint64(seqBuf[:], clone.Sequence+1)
		if err := l.db.Put(logNextKey, seqBuf[:]); err != nil {
			return fmt.Errorf("event log: write sequence: %w", err)
		}
	}
	l.records = append(l.records, clone)
	l.next = clone.Sequence + 1
	return nil
}

// Emit implements the Emitter interface. Records append in order; other event
// payloads are ignored. Append failures are logged rather than propagated so
// producers treat the log as fire-and-forget.
func (l *Log) Emit(evt Event) {
	rec, ok := evt.(*Record)
	if !ok || rec == nil {
		return
	}
	if err := l.Append(rec); err != nil {
		slog.Error("event log append failed", slog.String("type", rec.Type), slog.Any("error", err))
	}
}

// Len returns the number of appended records.
func (l *Log) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.next
}

// Records returns up to limit records starting at the given sequence number.
// A limit of zero or less returns everything from the offset onward.
func (l *Log) Records(from uint64, limit int) []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from >= uint64(len(l.records)) {
		return nil
	}
	slice := l.records[from:]
	if limit > 0 && limit < len(slice) {
		slice = slice[:limit]
	}
	out := make([]*Record, 0, len(slice))
	for _, rec := range slice {
		out = append(out, rec.Clone())
	}
	return out
}
