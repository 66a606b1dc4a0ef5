package repos

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"opsync/internal/models"
	"opsync/internal/store"
)

const (
	opKeyPrefix  = "op:"
	tsKeyPrefix  = "ts:"
	ackKeyPrefix = "ack:"
)

// OperationLog is the append-only store of mutation records. Records are
// written once under op:<id> and never touched again; a parallel ts:<ts>:<id>
// index keeps them in client-timestamp order so pulls can range-seek instead
// of filtering the whole key space. Both entries carry the retention TTL.
type OperationLog struct {
	kv  store.KV
	ttl time.Duration
	now func() time.Time
}

func NewOperationLog(kv store.KV, ttl time.Duration) *OperationLog {
	return &OperationLog{kv: kv, ttl: ttl, now: time.Now}
}

// SetClock overrides the retention clock. Test hook.
func (l *OperationLog) SetClock(now func() time.Time) {
	l.now = now
}

func opKey(id string) string {
	return opKeyPrefix + id
}

func tsKey(ts int64, id string) string {
	if ts < 0 {
		ts = 0
	}
	return fmt.Sprintf("%s%020d:%s", tsKeyPrefix, ts, id)
}

func ackKey(opID, deviceID string) string {
	return fmt.Sprintf("%s%s:%s", ackKeyPrefix, opID, deviceID)
}

// Put stores op, stamping ReceivedAt. It returns stored=false without error
// when a record with the same id already exists; the existing record is left
// untouched.
func (l *OperationLog) Put(ctx context.Context, op models.Operation) (bool, error) {
	op.ReceivedAt = l.now().UnixMilli()
	raw, err := msgpack.Marshal(&op)
	if err != nil {
		return false, fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	created, err := l.kv.SetNX(ctx, opKey(op.ID), raw, l.ttl)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	// The index entry is written after the record, so a crash in between
	// leaves a stored but unindexed operation until its TTL; pulls simply
	// miss it, pushes still see it as a duplicate. Acceptable without
	// multi-key transactions.
	if err := l.kv.Set(ctx, tsKey(op.Timestamp, op.ID), []byte(op.ID), l.ttl); err != nil {
		return true, err
	}
	return true, nil
}

// ScanSince yields, in ascending client-timestamp order, every live operation
// with timestamp > since that was not authored by excludeDevice.
func (l *OperationLog) ScanSince(ctx context.Context, since int64, excludeDevice string) ([]models.Operation, error) {
	if since < 0 {
		since = 0
	}
	if since == math.MaxInt64 {
		// No timestamp can be strictly greater, and since+1 would wrap.
		return nil, nil
	}
	// Collect ids first and fetch records after the scan completes: fetching
	// mid-iteration would need a second store round trip while the scan is
	// open, which the sqlite backend cannot serve from one pooled connection.
	seek := tsKey(since+1, "")
	seen := make(map[string]bool)
	var ids []string
	err := l.kv.Scan(ctx, tsKeyPrefix, seek, func(_ string, val []byte) error {
		id := string(val)
		if seen[id] {
			return nil
		}
		seen[id] = true
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var ops []models.Operation
	for _, id := range ids {
		op, ok, err := l.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || op.DeviceID == excludeDevice {
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Scan yields every live operation matching pred, in no particular order
// across devices.
func (l *OperationLog) Scan(ctx context.Context, pred func(models.Operation) bool) ([]models.Operation, error) {
	var ops []models.Operation
	seen := make(map[string]bool)
	err := l.kv.Scan(ctx, opKeyPrefix, opKeyPrefix, func(_ string, val []byte) error {
		var op models.Operation
		if err := msgpack.Unmarshal(val, &op); err != nil {
			return fmt.Errorf("decode operation: %w", err)
		}
		if seen[op.ID] || l.expired(op) {
			return nil
		}
		seen[op.ID] = true
		if pred == nil || pred(op) {
			ops = append(ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Acknowledge records that deviceID consumed the operation. The marker shares
// the operation TTL; acknowledging an unknown id still succeeds.
func (l *OperationLog) Acknowledge(ctx context.Context, opID, deviceID string) error {
	stamp := []byte(fmt.Sprintf("%d", l.now().UnixMilli()))
	return l.kv.Set(ctx, ackKey(opID, deviceID), stamp, l.ttl)
}

// Acknowledged reports whether deviceID has a live consumption marker for the
// operation.
func (l *OperationLog) Acknowledged(ctx context.Context, opID, deviceID string) (bool, error) {
	_, err := l.kv.Get(ctx, ackKey(opID, deviceID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *OperationLog) get(ctx context.Context, id string) (models.Operation, bool, error) {
	raw, err := l.kv.Get(ctx, opKey(id))
	if errors.Is(err, store.ErrKeyNotFound) {
		// Index entry outlived the record, or the backend already evicted it.
		return models.Operation{}, false, nil
	}
	if err != nil {
		return models.Operation{}, false, err
	}
	var op models.Operation
	if err := msgpack.Unmarshal(raw, &op); err != nil {
		return models.Operation{}, false, fmt.Errorf("decode operation %s: %w", id, err)
	}
	if l.expired(op) {
		return models.Operation{}, false, nil
	}
	return op, true, nil
}

// expired enforces retention above the backend so the policy holds even when
// the backend has not evicted yet. Expiry always beats recency.
func (l *OperationLog) expired(op models.Operation) bool {
	if l.ttl <= 0 {
		return false
	}
	return l.now().UnixMilli() >= op.ReceivedAt+l.ttl.Milliseconds()
}
