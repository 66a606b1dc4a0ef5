package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"opsync/internal/models"
	"opsync/internal/store"
)

const cursorKeyPrefix = "cursor:"

// CursorTracker keeps each device's last-synced watermark. Cursors outlive
// operations (their TTL is longer), always overwrite on update, and a device
// that has never synced has no cursor at all rather than a zero one.
type CursorTracker struct {
	kv  store.KV
	ttl time.Duration
	now func() time.Time
}

func NewCursorTracker(kv store.KV, ttl time.Duration) *CursorTracker {
	return &CursorTracker{kv: kv, ttl: ttl, now: time.Now}
}

func cursorKey(deviceID string) string {
	return cursorKeyPrefix + deviceID
}

func (t *CursorTracker) Set(ctx context.Context, deviceID string, ts int64) error {
	cur := models.DeviceCursor{
		DeviceID:  deviceID,
		LastSync:  ts,
		UpdatedAt: t.now().UnixMilli(),
	}
	raw, err := msgpack.Marshal(&cur)
	if err != nil {
		return fmt.Errorf("encode cursor for %s: %w", deviceID, err)
	}
	return t.kv.Set(ctx, cursorKey(deviceID), raw, t.ttl)
}

// Get returns found=false for devices never seen, so callers can tell "never
// synced" apart from "synced at epoch".
func (t *CursorTracker) Get(ctx context.Context, deviceID string) (int64, bool, error) {
	raw, err := t.kv.Get(ctx, cursorKey(deviceID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var cur models.DeviceCursor
	if err := msgpack.Unmarshal(raw, &cur); err != nil {
		return 0, false, fmt.Errorf("decode cursor for %s: %w", deviceID, err)
	}
	return cur.LastSync, true, nil
}
