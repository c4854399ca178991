// Package cache provides the short-lived shared state the integrity runner
// needs: a per-key lock and a small value store. Redis backs both in
// deployment; Memory serves tests and single-process setups.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLocked is returned by Lock when another holder owns the key.
	ErrLocked = errors.New("cache: key is locked")
	// ErrMiss is returned by Get when the key does not exist or has expired.
	ErrMiss = errors.New("cache: miss")
)

// UnlockFunc releases a lock obtained from Locker.Lock. Releasing a lock
// that has already expired or been taken over is not an error.
type UnlockFunc func(ctx context.Context) error

// Locker hands out exclusive, expiring locks.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Store keeps byte values with an expiry. A zero ttl keeps the value until
// it is overwritten.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Backend is both a Locker and a Store.
type Backend interface {
	Locker
	Store
	Ping(ctx context.Context) error
	Close() error
}
