package driver

import (
	"context"
	"sync"
)

// Scope is a view of a Registry that remembers the drivers added through
// it. Closing the scope removes all of them at once, so a discovery
// subsystem that goes away takes its drivers with it.
//
// A scope only removes handles it added. Drivers from other sources stay
// out of its reach.
type Scope struct {
	registry *Registry

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool
}

// NewScope creates an empty scope over r.
func (r *Registry) NewScope() *Scope {
	return &Scope{registry: r, handles: make(map[*Handle]struct{})}
}

// AddDriver adds h to the registry and records it in the scope. It returns
// ErrScopeClosed once Close has been called.
func (s *Scope) AddDriver(ctx context.Context, h *Handle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrScopeClosed
	}
	added, err := s.registry.AddDriver(ctx, h)
	if added {
		s.handles[h] = struct{}{}
	}
	return added, err
}

// RemoveDriver removes h if the scope added it. It returns false for a
// handle the scope does not own.
func (s *Scope) RemoveDriver(ctx context.Context, h *Handle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[h]; !ok {
		return false, nil
	}
	removed, err := s.registry.RemoveDriver(ctx, h)
	if h.State() == StateRemoved {
		delete(s.handles, h)
	}
	return removed, err
}

// Len returns the number of drivers the scope still tracks.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Close removes every driver the scope added under one acquisition of the
// registry lock and returns how many were live. Later adds fail with
// ErrScopeClosed. If ctx ends before the lock is acquired, the drivers stay
// registered and Close may be called again.
func (s *Scope) Close(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if len(s.handles) == 0 {
		return 0, nil
	}

	hs := make([]*Handle, 0, len(s.handles))
	for h := range s.handles {
		hs = append(hs, h)
	}
	removed, err := s.registry.removeAll(ctx, hs)
	if err != nil {
		return 0, err
	}
	clear(s.handles)
	return len(removed), nil
}
