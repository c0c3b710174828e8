// Package audit keeps an append-only JSONL log of timestamping operations
// performed by the CLI. Events are hash-chained so gaps or edits in the log
// are detectable.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EventType is the category of a logged operation.
type EventType string

// Operation categories.
const (
	EventStamp   EventType = "STAMP"
	EventExtend  EventType = "EXTEND"
	EventVerify  EventType = "VERIFY"
	EventInspect EventType = "INSPECT"
)

// GenesisHash seeds the hash chain of an empty log.
const GenesisHash = "sha256:genesis"

// Event is one log record.
type Event struct {
	Time     time.Time `json:"time"`
	Type     EventType `json:"type"`
	Target   string    `json:"target,omitempty"`
	Gateway  string    `json:"gateway,omitempty"`
	Success  bool      `json:"success"`
	Detail   string    `json:"detail,omitempty"`
	HashPrev string    `json:"hash_prev"`
	Hash     string    `json:"hash,omitempty"`
}

// Log appends events to a file, one JSON object per line.
type Log struct {
	f    *os.File
	last string
}

// Open opens or creates the log file and recovers the chain head from the
// last complete record.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	log := &Log{f: f, last: GenesisHash}

	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		var line []byte
		start := 0
		for i, c := range data {
			if c == '\n' {
				if i > start {
					line = data[start:i]
				}
				start = i + 1
			}
		}
		if line != nil {
			var last Event
			if json.Unmarshal(line, &last) == nil && last.Hash != "" {
				log.last = last.Hash
			}
		}
	}

	return log, nil
}

// Write chains and appends one event. A write failure fails the operation
// being logged.
func (l *Log) Write(event *Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	event.HashPrev = l.last

	event.Hash = ""
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	sum := sha256.Sum256(body)
	event.Hash = "sha256:" + hex.EncodeToString(sum[:])

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}

	l.last = event.Hash
	return nil
}

// Close flushes and closes the log.
func (l *Log) Close() error {
	return l.f.Close()
}
