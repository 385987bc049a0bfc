package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/didirc/icd/ircd"
)

// PostgresStore is a durable ircd.ChatHistoryStore backed by a pgx
// connection pool, for deployments that need CHATHISTORY to survive a
// restart (spec.md §6's "persistent archive" external interface).
// Query style grounded on the AmityVox federation file's pool-based
// query helpers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies the target table
// exists; callers are expected to have applied the
// icd_chat_history schema migration out of band.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

var _ ircd.ChatHistoryStore = (*PostgresStore)(nil)

// Close releases the pool's connections.
func (s *PostgresStore) Close() { s.pool.Close() }

const insertEntrySQL = `
INSERT INTO icd_chat_history (target, from_nick, from_did, msgid, text, tags, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (msgid) DO NOTHING`

// Append persists entry.
func (s *PostgresStore) Append(ctx context.Context, entry ircd.HistoryEntry) error {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("archive: marshal tags: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertEntrySQL,
		target(entry.Target), entry.FromNick, entry.FromDID, entry.MsgID, entry.Text, tags, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("archive: insert history entry: %w", err)
	}
	return nil
}

const latestSQL = `
SELECT from_nick, from_did, msgid, text, tags, sent_at
FROM icd_chat_history
WHERE target = $1
ORDER BY sent_at DESC
LIMIT $2`

// Latest returns up to limit most recent entries for target, oldest-first.
func (s *PostgresStore) Latest(ctx context.Context, tgt string, limit int) ([]ircd.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, latestSQL, target(tgt), limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query latest: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows, tgt)
	if err != nil {
		return nil, err
	}
	reverse(entries)
	return entries, nil
}

const beforeSQL = `
SELECT from_nick, from_did, msgid, text, tags, sent_at
FROM icd_chat_history
WHERE target = $1 AND sent_at < $2
ORDER BY sent_at DESC
LIMIT $3`

// Before returns up to limit entries strictly preceding before, oldest-first.
func (s *PostgresStore) Before(ctx context.Context, tgt string, before time.Time, limit int) ([]ircd.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, beforeSQL, target(tgt), before, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query before: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows, tgt)
	if err != nil {
		return nil, err
	}
	reverse(entries)
	return entries, nil
}

// pgxRows is the subset of pgx.Rows scanEntries needs, so it can be
// used against both Query's real return type without importing pgx.Rows
// by name in a second place.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEntries(rows pgxRows, target string) ([]ircd.HistoryEntry, error) {
	var out []ircd.HistoryEntry
	for rows.Next() {
		var e ircd.HistoryEntry
		var tags []byte
		if err := rows.Scan(&e.FromNick, &e.FromDID, &e.MsgID, &e.Text, &tags, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("archive: scan row: %w", err)
		}
		_ = json.Unmarshal(tags, &e.Tags)
		e.Target = target
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: row iteration: %w", err)
	}
	return out, nil
}

func reverse(entries []ircd.HistoryEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
