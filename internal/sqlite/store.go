package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/subwatch/frontpage-mirror/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sorted_sets (
	zset   TEXT NOT NULL,
	member TEXT NOT NULL,
	score  REAL NOT NULL,
	PRIMARY KEY (zset, member)
);
CREATE INDEX IF NOT EXISTS idx_sorted_sets_score ON sorted_sets (zset, score);

CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
);
`

// Store implements domain.SortedSetStore and domain.KeyValueStore on SQLite.
// Range order follows sorted-set semantics: ascending score, with rowid
// (insertion order) breaking ties. Score updates keep a member's rowid.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. The caller should call Close when done.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The jobs are serialized, but the HTTP status handler reads
	// concurrently; a single connection keeps modernc/sqlite happy.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ZAdd upserts members into a sorted set.
func (s *Store) ZAdd(ctx context.Context, set string, members ...domain.Member) error {
	if len(members) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sorted_sets (zset, member, score)
		VALUES (?, ?, ?)
		ON CONFLICT (zset, member) DO UPDATE SET score = excluded.score`)
	if err != nil {
		return fmt.Errorf("prepare zadd: %w", err)
	}
	defer stmt.Close()

	for _, m := range members {
		if _, err := stmt.ExecContext(ctx, set, m.Member, m.Score); err != nil {
			return fmt.Errorf("zadd %s/%s: %w", set, m.Member, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit zadd: %w", err)
	}
	return nil
}

// ZRem removes members from a sorted set.
func (s *Store) ZRem(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM sorted_sets WHERE zset = ? AND member = ?`)
	if err != nil {
		return fmt.Errorf("prepare zrem: %w", err)
	}
	defer stmt.Close()

	for _, member := range members {
		if _, err := stmt.ExecContext(ctx, set, member); err != nil {
			return fmt.Errorf("zrem %s/%s: %w", set, member, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit zrem: %w", err)
	}
	return nil
}

// ZScore returns a member's score and whether it exists.
func (s *Store) ZScore(ctx context.Context, set, member string) (float64, bool, error) {
	var score float64
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM sorted_sets WHERE zset = ? AND member = ?`, set, member,
	).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("zscore %s/%s: %w", set, member, err)
	}
	return score, true, nil
}

// ZRangeByRank returns members from start to stop inclusive, ordered by
// ascending score then insertion order. A stop of -1 means the last member.
func (s *Store) ZRangeByRank(ctx context.Context, set string, start, stop int64) ([]domain.Member, error) {
	limit := int64(-1)
	if stop >= 0 {
		limit = stop - start + 1
		if limit <= 0 {
			return nil, nil
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT member, score FROM sorted_sets
		WHERE zset = ?
		ORDER BY score ASC, rowid ASC
		LIMIT ? OFFSET ?`,
		set, limit, start,
	)
	if err != nil {
		return nil, fmt.Errorf("zrange by rank on %s: %w", set, err)
	}
	defer rows.Close()

	return scanMembers(rows)
}

// ZRangeByScore returns members whose score lies in [min, max], ordered by
// ascending score then insertion order.
func (s *Store) ZRangeByScore(ctx context.Context, set string, min, max float64) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member, score FROM sorted_sets
		WHERE zset = ? AND score >= ? AND score <= ?
		ORDER BY score ASC, rowid ASC`,
		set, min, max,
	)
	if err != nil {
		return nil, fmt.Errorf("zrange by score on %s: %w", set, err)
	}
	defer rows.Close()

	return scanMembers(rows)
}

// ZCard returns the number of members in a sorted set.
func (s *Store) ZCard(ctx context.Context, set string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sorted_sets WHERE zset = ?`, set,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("zcard on %s: %w", set, err)
	}
	return count, nil
}

// Get returns the value for a key. Expired keys are removed lazily.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value     string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixMilli() {
		if err := s.Delete(ctx, key); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	return value, true, nil
}

// Set stores a value; a ttl of zero means the key never expires.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl != 0 {
		expiresAt = sql.NullInt64{Int64: time.Now().Add(ttl).UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func scanMembers(rows *sql.Rows) ([]domain.Member, error) {
	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.Member, &m.Score); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}
