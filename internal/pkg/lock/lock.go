// Package lock provides keyed mutexes that serialize cooldown claims and
// game session operations.
package lock

import (
	"context"
	"sync"
	"time"
)

// keyMutex wraps a mutex with a reference count so idle keys can be dropped.
type keyMutex struct {
	mu       sync.Mutex
	refCount int
}

// KeyedLock hands out one mutex per string key.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

// NewKeyedLock creates a new KeyedLock instance.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyMutex)}
}

// acquire returns the mutex for key and registers interest in it.
func (kl *KeyedLock) acquire(key string) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		m = &keyMutex{}
		kl.locks[key] = m
	}
	m.refCount++
	return m
}

// release drops interest in key, removing the mutex once nobody holds or waits on it.
func (kl *KeyedLock) release(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		return
	}
	m.refCount--
	if m.refCount <= 0 {
		delete(kl.locks, key)
	}
}

// Lock acquires the lock for key, blocking until it is available.
func (kl *KeyedLock) Lock(key string) {
	kl.acquire(key).mu.Lock()
}

// Unlock releases the lock for key.
func (kl *KeyedLock) Unlock(key string) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		return
	}
	m.mu.Unlock()
	kl.release(key)
}

// LockWithTimeout attempts to acquire the lock within timeout.
// Returns true if the lock was acquired, false if the timeout or ctx expired first.
func (kl *KeyedLock) LockWithTimeout(ctx context.Context, key string, timeout time.Duration) bool {
	m := kl.acquire(key)

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		return true
	case <-timeoutCtx.Done():
		// The waiter still gets the mutex eventually; hand it straight back.
		go func() {
			<-done
			m.mu.Unlock()
			kl.release(key)
		}()
		return false
	}
}

// WithLockContext executes fn while holding the lock for key, giving up
// with ErrLockTimeout if the lock cannot be taken within timeout.
func (kl *KeyedLock) WithLockContext(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	if !kl.LockWithTimeout(ctx, key, timeout) {
		return ErrLockTimeout
	}
	defer kl.Unlock(key)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// Len returns the number of keys currently tracked.
func (kl *KeyedLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
