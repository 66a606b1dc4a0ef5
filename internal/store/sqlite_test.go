package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestSQLiteKV(t *testing.T) (*SQLiteKV, *fakeClock) {
	t.Helper()
	// cache=shared so every pooled connection sees the same database.
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v BLOB NOT NULL, expires_at INTEGER)`)
	require.NoError(t, err)

	kv := NewSQLiteKV(db)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	kv.SetClock(clock.Now)
	return kv, clock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestSQLiteKVSetGet(t *testing.T) {
	kv, _ := newTestSQLiteKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, kv.Set(ctx, "a", []byte("1"), 0))
	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, kv.Delete(ctx, "a"))
	_, err = kv.Get(ctx, "a")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSQLiteKVSetNX(t *testing.T) {
	kv, _ := newTestSQLiteKV(t)
	ctx := context.Background()

	created, err := kv.SetNX(ctx, "k", []byte("first"), 0)
	require.NoError(t, err)
	require.True(t, created)

	created, err = kv.SetNX(ctx, "k", []byte("second"), 0)
	require.NoError(t, err)
	require.False(t, created)

	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), v)
}

func TestSQLiteKVExpiry(t *testing.T) {
	kv, clock := newTestSQLiteKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "short", []byte("v"), time.Minute))
	require.NoError(t, kv.Set(ctx, "forever", []byte("v"), 0))

	clock.Advance(2 * time.Minute)

	_, err := kv.Get(ctx, "short")
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = kv.Get(ctx, "forever")
	require.NoError(t, err)

	// An expired key no longer blocks SetNX.
	created, err := kv.SetNX(ctx, "short", []byte("v2"), time.Minute)
	require.NoError(t, err)
	require.True(t, created)
}

func TestSQLiteKVScanOrderAndSeek(t *testing.T) {
	kv, clock := newTestSQLiteKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "p:3", []byte("c"), 0))
	require.NoError(t, kv.Set(ctx, "p:1", []byte("a"), 0))
	require.NoError(t, kv.Set(ctx, "p:2", []byte("b"), time.Minute))
	require.NoError(t, kv.Set(ctx, "q:1", []byte("other"), 0))

	var keys []string
	require.NoError(t, kv.Scan(ctx, "p:", "p:", func(k string, _ []byte) error {
		keys = append(keys, k)
		return nil
	}))
	require.Equal(t, []string{"p:1", "p:2", "p:3"}, keys)

	keys = nil
	require.NoError(t, kv.Scan(ctx, "p:", "p:2", func(k string, _ []byte) error {
		keys = append(keys, k)
		return nil
	}))
	require.Equal(t, []string{"p:2", "p:3"}, keys)

	clock.Advance(2 * time.Minute)
	keys = nil
	require.NoError(t, kv.Scan(ctx, "p:", "p:", func(k string, _ []byte) error {
		keys = append(keys, k)
		return nil
	}))
	require.Equal(t, []string{"p:1", "p:3"}, keys)
}
