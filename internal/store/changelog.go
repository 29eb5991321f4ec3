package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/storysmith/internal/storage"
)

// ChangeEntry is one audit record. Every mutating Store operation appends
// exactly one entry; the log is append-only and flushed before the mutation is
// acknowledged.
type ChangeEntry struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Op     string    `json:"op"`
	Detail string    `json:"detail"`
}

func newChangeEntry(op, detail string) ChangeEntry {
	return ChangeEntry{
		ID:     uuid.New().String(),
		Time:   time.Now().UTC(),
		Op:     op,
		Detail: detail,
	}
}

// appendChange writes the entry to the durable log and keeps it in memory for
// export. The durable append happens first so an acknowledged mutation is
// never missing from the log.
func (s *Store) appendChange(ctx context.Context, name string, entry ChangeEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling change entry: %w", err)
	}
	line = append(line, '\n')

	if err := s.backend.Append(ctx, storage.ChangeLogPath(name), line); err != nil {
		return fmt.Errorf("appending change log: %w", err)
	}

	s.changes = append(s.changes, entry)
	return nil
}

// Changes returns a copy of the in-memory change log.
func (s *Store) Changes() []ChangeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChangeEntry, len(s.changes))
	copy(out, s.changes)
	return out
}

// loadChanges restores the change log from disk, tolerating a missing file
// for projects created before any mutation.
func (s *Store) loadChanges(ctx context.Context, name string) error {
	path := storage.ChangeLogPath(name)
	if !s.backend.Exists(ctx, path) {
		s.changes = nil
		return nil
	}

	data, err := s.backend.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("loading change log: %w", err)
	}

	var entries []ChangeEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var entry ChangeEntry
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("decoding change log entry: %w", err)
		}
		entries = append(entries, entry)
	}

	s.changes = entries
	return nil
}
