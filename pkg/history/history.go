// Package history persists a bounded, newest-first log of rebuild
// attempts. Unlike the Slot/State/Lock/USB managers it has no
// original_source equivalent — shadow_manager.py keeps no audit trail —
// so it is a spec.md addition, durable via pkg/atomicfile the same way
// pkg/statestore is.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cncworks/shadow/pkg/atomicfile"
	"github.com/cncworks/shadow/pkg/slot"
	"github.com/google/uuid"
)

// Entry records one rebuild attempt, successful or not.
type Entry struct {
	ID               string    `json:"id"`
	Trigger          string    `json:"trigger"` // "watch" or "manual"
	Result           string    `json:"result"`   // "ok", "error", or "lock_conflict"
	RunID            int64     `json:"run_id"`
	ActiveSlotBefore slot.Slot `json:"active_slot_before"`
	RebuildSlot      slot.Slot `json:"rebuild_slot"`
	ActiveSlotAfter  slot.Slot `json:"active_slot_after"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMS       int64     `json:"duration_ms"`
	ErrorCode        string    `json:"error_code,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// NewEntry stamps a fresh Entry with a random ID, leaving the caller to
// fill in the rest.
func NewEntry() Entry {
	return Entry{ID: uuid.NewString()}
}

// Log is a bounded, disk-backed ring of Entry records.
type Log struct {
	path  string
	limit int
}

// New constructs a Log bound to path, capped at limit entries. A limit
// of zero or less is treated as 1 (a log that discards everything but
// the latest attempt is still a valid, if minimal, configuration).
func New(path string, limit int) *Log {
	if limit <= 0 {
		limit = 1
	}
	return &Log{path: path, limit: limit}
}

// Append adds entry to the log, trimming the oldest entries beyond the
// configured limit, and persists the result atomically.
func (l *Log) Append(entry Entry) error {
	entries, err := l.load()
	if err != nil {
		return err
	}

	entries = append(entries, entry)
	if len(entries) > l.limit {
		entries = entries[len(entries)-l.limit:]
	}

	return l.save(entries)
}

// List returns every retained entry, newest first.
func (l *Log) List() ([]Entry, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	reversed := make([]Entry, len(entries))
	for i, e := range entries {
		reversed[len(entries)-1-i] = e
	}
	return reversed, nil
}

func (l *Log) load() ([]Entry, error) {
	data, err := readFileOrEmpty(l.path)
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", l.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt history file is not worth failing startup over; it
		// is an audit trail, not FSM state.
		return nil, nil
	}
	return entries, nil
}

func (l *Log) save(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode entries: %w", err)
	}
	data = append(data, '\n')
	return atomicfile.Write(l.path, data, 0o644)
}
