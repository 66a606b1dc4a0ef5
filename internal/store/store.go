package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned by Get for missing or expired keys.
	ErrKeyNotFound = errors.New("key not found")
	// ErrUnavailable wraps backend failures. Callers should treat the
	// attempted write as not stored.
	ErrUnavailable = errors.New("store unavailable")
)

// ScanFunc receives one key/value pair per live entry. Returning an error
// stops the scan and propagates the error to the caller.
type ScanFunc func(key string, value []byte) error

// KV is an expiring key-value store. Entries written with a positive ttl are
// evicted once it elapses; evicted entries behave exactly like missing ones.
// Every call is a potentially slow network round trip and must honor ctx.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value unconditionally.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes the value only when the key has no live entry, returning
	// whether this call created it. An expired entry counts as absent.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Scan iterates live entries whose key starts with prefix, in ascending
	// key order, starting at seek when seek sorts after prefix. A restarted
	// scan may replay keys already seen; callers must tolerate repeats.
	Scan(ctx context.Context, prefix, seek string, fn ScanFunc) error

	Delete(ctx context.Context, key string) error

	Close() error
}
