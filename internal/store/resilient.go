package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

const retryBackoff = 100 * time.Millisecond

// Resilient decorates a KV with a per-call timeout and a single bounded retry
// on backend failure. Anything still failing after the retry surfaces as
// ErrUnavailable to the caller.
type Resilient struct {
	kv      KV
	timeout time.Duration
}

func NewResilient(kv KV, timeout time.Duration) *Resilient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resilient{kv: kv, timeout: timeout}
}

func (r *Resilient) do(ctx context.Context, op func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(1, retry.NewConstant(retryBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		err := op(callCtx)
		if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return retry.RetryableError(err)
		}
		return err
	})
	// A per-call timeout that exhausted its retry is an availability problem,
	// unless the caller's own context is what gave up.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (r *Resilient) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := r.do(ctx, func(ctx context.Context) error {
		v, err := r.kv.Get(ctx, key)
		val = v
		return err
	})
	return val, err
}

func (r *Resilient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.kv.Set(ctx, key, value, ttl)
	})
}

func (r *Resilient) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var created bool
	err := r.do(ctx, func(ctx context.Context) error {
		c, err := r.kv.SetNX(ctx, key, value, ttl)
		created = c
		return err
	})
	return created, err
}

// Scan restarts the whole iteration on retry, so fn may see a key twice.
func (r *Resilient) Scan(ctx context.Context, prefix, seek string, fn ScanFunc) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.kv.Scan(ctx, prefix, seek, fn)
	})
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.kv.Delete(ctx, key)
	})
}

func (r *Resilient) Close() error {
	return r.kv.Close()
}
