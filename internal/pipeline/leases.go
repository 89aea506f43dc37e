package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// errLeaseHeld is returned by acquire when another run owns the id
var errLeaseHeld = errors.New("lease held")

// leaseSet holds at most one execution lease per job id. The channel for a
// held lease is closed on release so waiters can observe completion. Once
// draining starts no new lease is granted.
type leaseSet struct {
	mu       sync.Mutex
	held     map[string]chan struct{}
	draining bool
	wg       sync.WaitGroup
}

func newLeaseSet() *leaseSet {
	return &leaseSet{held: make(map[string]chan struct{})}
}

// acquire takes the lease for id. The returned release func is idempotent.
// The id is cloned because callers may pass strings backed by reused
// request buffers.
func (l *leaseSet) acquire(id string) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.draining {
		return nil, ErrShuttingDown
	}
	if _, busy := l.held[id]; busy {
		return nil, errLeaseHeld
	}
	key := strings.Clone(id)
	done := make(chan struct{})
	l.held[key] = done
	l.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(done)
			l.wg.Done()
		})
	}, nil
}

// isHeld reports whether a run currently owns id
func (l *leaseSet) isHeld(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[id]
	return busy
}

// wait blocks until the lease for id is released. It returns immediately
// when no lease is held.
func (l *leaseSet) wait(ctx context.Context, id string) error {
	l.mu.Lock()
	done, busy := l.held[id]
	l.mu.Unlock()
	if !busy {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain stops granting leases and blocks until every held one is released
func (l *leaseSet) drain(ctx context.Context) error {
	l.mu.Lock()
	l.draining = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
