// Package kv is the thin key-value abstraction the auth credential store and
// webhook delivery engine are built on. The production implementation is
// Redis; tests substitute an in-memory fake satisfying the same interface.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the narrow set of primitives the gateway's persistence layer needs:
// string get/set/delete, cursor-based pattern scan (never a blocking
// enumerate-all), and the list primitives required for the webhook queue's
// atomic move-from-head-of-A-to-tail-of-B semantics.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error

	// ScanKeys iterates all keys matching pattern using a cursor, pageSize at a
	// time, never loading the full keyspace at once.
	ScanKeys(ctx context.Context, pattern string, pageSize int64) ([]string, error)

	// LPushHead pushes value onto the head of key (the "newest push" end).
	LPushHead(ctx context.Context, key, value string) error
	// RPopLPushTail atomically pops the tail (oldest) element of src and
	// pushes it onto the head of dst, returning it. Returns ok=false if src is
	// empty.
	RPopLPushTail(ctx context.Context, src, dst string) (value string, ok bool, err error)
	// LRemove removes the first occurrence of value from key.
	LRemove(ctx context.Context, key, value string) error
	// LLen returns the length of the list at key.
	LLen(ctx context.Context, key string) (int64, error)

	Close() error
}

// backoffDelay returns the wait before the next Connect attempt: it grows
// linearly as min(attempt*200ms, 5000ms), so Connect tolerates slow startup
// of the KV service.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 200 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
