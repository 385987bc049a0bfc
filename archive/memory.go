// Package archive provides ircd.ChatHistoryStore implementations:
// MemoryStore, a fixed-length per-target ring buffer (the default), and
// PostgresStore, an optional durable backend over the same interface.
package archive

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/didirc/icd/ircd"
)

// MemoryStore is a per-target bounded ring buffer implementing
// ircd.ChatHistoryStore. It is the default CHATHISTORY backend: no
// external dependency, history is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	limit   int
	entries map[string][]ircd.HistoryEntry // target -> oldest..newest
}

// NewMemoryStore creates a ring buffer retaining up to limit entries
// per target (channel or DM pair). limit <= 0 defaults to 200.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 200
	}
	return &MemoryStore{limit: limit, entries: make(map[string][]ircd.HistoryEntry)}
}

var _ ircd.ChatHistoryStore = (*MemoryStore)(nil)

// Append records entry, evicting the oldest entry for its target once
// the ring buffer is full.
func (s *MemoryStore) Append(ctx context.Context, entry ircd.HistoryEntry) error {
	key := target(entry.Target)

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.entries[key]
	buf = append(buf, entry)
	if len(buf) > s.limit {
		buf = buf[len(buf)-s.limit:]
	}
	s.entries[key] = buf
	return nil
}

// Latest returns up to limit most recent entries for target, oldest-first.
func (s *MemoryStore) Latest(ctx context.Context, target string, limit int) ([]ircd.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.entries[canonTarget(target)]
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]ircd.HistoryEntry, limit)
	copy(out, buf[len(buf)-limit:])
	return out, nil
}

// Before returns up to limit entries strictly preceding before, oldest-first.
func (s *MemoryStore) Before(ctx context.Context, target string, before time.Time, limit int) ([]ircd.HistoryEntry, error) {
	s.mu.Lock()
	buf := append([]ircd.HistoryEntry(nil), s.entries[canonTarget(target)]...)
	s.mu.Unlock()

	var matched []ircd.HistoryEntry
	for _, e := range buf {
		if e.Timestamp.Before(before) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func canonTarget(t string) string { return target(t) }

// target normalizes a channel/nick key for the entries map. Channels
// are already canonicalized upstream (ircd.CanonicalChannel); this
// lower-cases defensively so a DM pair's nick-derived key behaves the
// same way.
func target(t string) string { return strings.ToLower(t) }
