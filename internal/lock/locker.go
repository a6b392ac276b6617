// Package lock provides short-lived exclusive leases keyed by string.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned by TryAcquire when another holder owns the key.
var ErrLocked = errors.New("lock is held")

// Locker grants exclusive leases. A lease expires after ttl even if it is
// never released, so a crashed holder cannot block the key forever.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Local is an in-process Locker. It only excludes callers sharing the
// same value.
type Local struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
	seq  uint64
}

type localLease struct {
	id      uint64
	expires time.Time
}

// NewLocal returns an empty in-process Locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]localLease), now: time.Now}
}

// TryAcquire takes key for ttl or fails with ErrLocked.
func (l *Local) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, ErrLocked
	}
	for k, lease := range l.held {
		if !now.Before(lease.expires) {
			delete(l.held, k)
		}
	}
	l.seq++
	id := l.seq
	l.held[key] = localLease{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if lease, ok := l.held[key]; ok && lease.id == id {
				delete(l.held, key)
			}
		})
	}, nil
}
