// Package lease provides per-feed mutual exclusion for processing cycles.
package lease

import (
	"context"
	"sync"
)

// Locker hands out exclusive leases on keys.
//
// Acquire never blocks waiting for a holder: when the key is taken it
// returns ok == false. The returned release func is safe to call more than
// once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Local is a Locker for a single process.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// Acquire takes key if nobody holds it.
func (l *Local) Acquire(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}
