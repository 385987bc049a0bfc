package ircd

import (
	"context"
	"time"
)

// HistoryEntry is one archived message, returned by CHATHISTORY queries.
type HistoryEntry struct {
	Target    string
	FromNick  string
	FromDID   string
	MsgID     string
	Text      string
	Tags      map[string]string
	Timestamp time.Time
}

// ChatHistoryStore persists and replays channel/DM message history for
// CHATHISTORY. The in-memory ring buffer (archive.MemoryStore) is the
// default; archive.PostgresStore is an optional durable implementation.
type ChatHistoryStore interface {
	// Append records a message for later CHATHISTORY retrieval.
	Append(ctx context.Context, entry HistoryEntry) error

	// Before returns up to limit entries for target strictly before
	// timestamp before, oldest-first.
	Before(ctx context.Context, target string, before time.Time, limit int) ([]HistoryEntry, error)

	// Latest returns up to limit most recent entries for target.
	Latest(ctx context.Context, target string, limit int) ([]HistoryEntry, error)
}

// JoinPolicy is an external hook consulted during JOIN (§4.6 step 6).
// A nil JoinPolicy always allows the join. This is a hook point only —
// the policy engine itself is out of core scope.
type JoinPolicy interface {
	// AllowJoin reports whether session may join channel, or a
	// human-readable reason for denial.
	AllowJoin(ctx context.Context, sessionDID, channel string) (allowed bool, reason string)
}
