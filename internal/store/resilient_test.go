package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// flakyKV fails the first failures calls of every method, then delegates to
// an inner map.
type flakyKV struct {
	failures int
	calls    int
	data     map[string][]byte
}

var _ KV = (*flakyKV)(nil)

func (f *flakyKV) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("%w: transient", ErrUnavailable)
	}
	return nil
}

func (f *flakyKV) Get(_ context.Context, key string) ([]byte, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (f *flakyKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if err := f.attempt(); err != nil {
		return err
	}
	f.data[key] = value
	return nil
}

func (f *flakyKV) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if err := f.attempt(); err != nil {
		return false, err
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value
	return true, nil
}

func (f *flakyKV) Scan(_ context.Context, _, _ string, _ ScanFunc) error {
	return f.attempt()
}

func (f *flakyKV) Delete(_ context.Context, key string) error {
	if err := f.attempt(); err != nil {
		return err
	}
	delete(f.data, key)
	return nil
}

func (f *flakyKV) Close() error { return nil }

func TestResilientRetriesOnce(t *testing.T) {
	inner := &flakyKV{failures: 1, data: map[string][]byte{}}
	r := NewResilient(inner, time.Second)

	// First attempt fails, the single retry succeeds.
	require.NoError(t, r.Set(context.Background(), "k", []byte("v"), 0))
	require.Equal(t, 2, inner.calls)

	v, err := r.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestResilientGivesUpAfterRetry(t *testing.T) {
	inner := &flakyKV{failures: 10, data: map[string][]byte{}}
	r := NewResilient(inner, time.Second)

	err := r.Set(context.Background(), "k", []byte("v"), 0)
	require.ErrorIs(t, err, ErrUnavailable)
	// One attempt plus exactly one retry.
	require.Equal(t, 2, inner.calls)
}

func TestResilientDoesNotRetryNotFound(t *testing.T) {
	inner := &flakyKV{data: map[string][]byte{}}
	r := NewResilient(inner, time.Second)

	_, err := r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.Equal(t, 1, inner.calls)
}
