package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteKV keeps the key space in a single kv table with an expires_at epoch
// millisecond column. Expired rows are invisible to every read and are
// reclaimed lazily on write.
type SQLiteKV struct {
	db *sql.DB

	// now is swapped out by tests to drive expiry without sleeping.
	now func() time.Time
}

func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db, now: time.Now}
}

// SetClock overrides the expiry clock. Test hook.
func (s *SQLiteKV) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT v FROM kv
		WHERE k = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, s.nowMillis()).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at
	`, key, value, s.expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	// Reclaim an expired row first so it does not block the insert.
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM kv WHERE k = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, key, s.nowMillis()); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(k) DO NOTHING
	`, key, value, s.expiresAt(ttl))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *SQLiteKV) Scan(ctx context.Context, prefix, seek string, fn ScanFunc) error {
	if seek < prefix {
		seek = prefix
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT k, v FROM kv
		WHERE k >= ? AND k < ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY k ASC
	`, seek, prefixEnd(prefix), s.nowMillis())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteKV) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLiteKV) expiresAt(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return s.now().Add(ttl).UnixMilli()
}

// prefixEnd returns the smallest key that sorts after every key with the
// prefix. The key namespaces here never end in 0xff bytes.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return string(append(b, 0xff))
}
