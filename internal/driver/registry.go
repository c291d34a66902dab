package driver

import (
	"cmp"
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/devicehub-core/internal/notify"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithQueueSize sets the buffer of queues returned by Subscribe.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		r.queueSize = n
	}
}

// WithPublisher adds a broadcaster that receives every registry envelope in
// addition to the registry's own hub.
func WithPublisher(p notify.Publisher[Entry]) Option {
	return func(r *Registry) {
		if p != nil {
			r.publishers = append(r.publishers, p)
		}
	}
}

// snapshot is one immutable version of the registry contents.
type snapshot struct {
	entries map[uuid.UUID]Entry
	stats   Stats
}

// Registry is the authoritative set of live drivers.
//
// Add and remove are serialised by a single context-aware lock. Each
// mutation builds a new snapshot and stores it atomically, so readers never
// observe a half-applied change. Envelopes are published after the lock is
// released, in commit order.
type Registry struct {
	sem    *semaphore.Weighted
	emitMu sync.Mutex
	state  atomic.Pointer[snapshot]

	hub        *notify.Hub[Entry]
	publishers []notify.Publisher[Entry]
	queueSize  int

	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sem:    semaphore.NewWeighted(1),
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.hub = notify.NewHub[Entry]("drivers",
		notify.WithQueueSize(r.queueSize),
		notify.WithLogger(r.logger),
	)
	r.state.Store(&snapshot{entries: map[uuid.UUID]Entry{}, stats: computeStats(nil)})
	return r
}

// SetLogger sets the logger for the registry.
// Must be called before the registry is shared between goroutines.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// AddDriver admits a driver.
//
// It returns false when another live driver already owns the same device ID
// or when the handle is not new (already active or removed). A rejected call
// publishes nothing. The error is non-nil only when ctx ends while waiting
// for the registry lock.
func (r *Registry) AddDriver(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, nil
	}

	var added Entry
	ok, err := r.mutate(ctx, func(cur *snapshot) (*snapshot, []notify.Envelope[Entry]) {
		if h.State() != StateNew {
			r.logger.Debug("driver add rejected", "id", h.id, "state", h.State())
			return nil, nil
		}
		if existing, exists := cur.entries[h.id]; exists {
			r.logger.Warn("duplicate driver rejected", "id", h.id, "name", h.info.Name, "existing", existing.Name)
			return nil, nil
		}

		added = newEntry(h, r.now())
		entries := maps.Clone(cur.entries)
		entries[h.id] = added
		h.setState(StateActive)
		return newSnapshot(entries), []notify.Envelope[Entry]{notify.NewEnvelope(notify.KindAdded, added)}
	})
	if ok {
		r.logger.Info("driver added", "id", added.ID, "name", added.Name, "features", added.Features.String())
	}
	return ok, err
}

// RemoveDriver removes a live driver.
//
// It returns false when h is not the live driver for its device ID: never
// added, already removed, or superseded. Of two concurrent removals of the
// same handle exactly one returns true.
func (r *Registry) RemoveDriver(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, nil
	}

	var removed Entry
	ok, err := r.mutate(ctx, func(cur *snapshot) (*snapshot, []notify.Envelope[Entry]) {
		if !cur.owns(h) {
			return nil, nil
		}

		removed = cur.entries[h.id]
		entries := maps.Clone(cur.entries)
		delete(entries, h.id)
		h.setState(StateRemoved)
		return newSnapshot(entries), []notify.Envelope[Entry]{notify.NewEnvelope(notify.KindRemoved, removed)}
	})
	if ok {
		r.logger.Info("driver removed", "id", removed.ID, "name", removed.Name)
	}
	return ok, err
}

// removeAll removes every handle in hs that is still live under a single
// acquisition of the registry lock. It returns the removed entries.
func (r *Registry) removeAll(ctx context.Context, hs []*Handle) ([]Entry, error) {
	var removed []Entry
	_, err := r.mutate(ctx, func(cur *snapshot) (*snapshot, []notify.Envelope[Entry]) {
		var entries map[uuid.UUID]Entry
		var envs []notify.Envelope[Entry]
		for _, h := range hs {
			if !cur.owns(h) {
				continue
			}
			if entries == nil {
				entries = maps.Clone(cur.entries)
			}
			e := entries[h.id]
			delete(entries, h.id)
			h.setState(StateRemoved)
			removed = append(removed, e)
			envs = append(envs, notify.NewEnvelope(notify.KindRemoved, e))
		}
		if entries == nil {
			return nil, nil
		}
		return newSnapshot(entries), envs
	})
	for _, e := range removed {
		r.logger.Info("driver removed", "id", e.ID, "name", e.Name)
	}
	return removed, err
}

// mutate runs fn under the registry lock. When fn returns a new snapshot, it
// is stored before the lock is released and envs are published after. The
// emission mutex is taken before the lock is released so that publish order
// always equals commit order.
func (r *Registry) mutate(ctx context.Context, fn func(*snapshot) (*snapshot, []notify.Envelope[Entry])) (bool, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	locked := true
	defer func() {
		if locked {
			r.sem.Release(1)
		}
	}()

	next, envs := fn(r.state.Load())
	if next == nil {
		return false, nil
	}
	r.state.Store(next)

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	locked = false
	r.sem.Release(1)

	for _, env := range envs {
		r.publish(env)
	}
	return true, nil
}

func (r *Registry) publish(env notify.Envelope[Entry]) {
	r.hub.Publish(env)
	for _, p := range r.publishers {
		p.Publish(env)
	}
}

// Lookup returns the live entry for a device ID.
func (r *Registry) Lookup(id uuid.UUID) (Entry, error) {
	e, ok := r.state.Load().entries[id]
	if !ok {
		return Entry{}, NotFound(ResourceDevice, id.String())
	}
	return e, nil
}

// Entries returns every live entry ordered by name, then ID.
func (r *Registry) Entries() []Entry {
	return sortedEntries(r.state.Load().entries)
}

// Count returns the number of live drivers.
func (r *Registry) Count() int {
	return len(r.state.Load().entries)
}

// Cooler returns a cooler of a live device.
func (r *Registry) Cooler(deviceID, coolerID uuid.UUID) (Cooler, error) {
	e, err := r.Lookup(deviceID)
	if err != nil {
		return Cooler{}, err
	}
	return e.Cooler(coolerID)
}

// Sensor returns a sensor of a live device.
func (r *Registry) Sensor(deviceID, sensorID uuid.UUID) (Sensor, error) {
	e, err := r.Lookup(deviceID)
	if err != nil {
		return Sensor{}, err
	}
	return e.Sensor(sensorID)
}

// Light returns a light of a live device.
func (r *Registry) Light(deviceID, lightID uuid.UUID) (Light, error) {
	e, err := r.Lookup(deviceID)
	if err != nil {
		return Light{}, err
	}
	return e.Light(lightID)
}

// EmbeddedMonitor returns an embedded monitor of a live device.
func (r *Registry) EmbeddedMonitor(deviceID, monitorID uuid.UUID) (EmbeddedMonitor, error) {
	e, err := r.Lookup(deviceID)
	if err != nil {
		return EmbeddedMonitor{}, err
	}
	return e.EmbeddedMonitor(monitorID)
}

// MonitorSetting returns one setting of an embedded monitor of a live device.
func (r *Registry) MonitorSetting(deviceID, monitorID uuid.UUID, settingID string) (MonitorSetting, error) {
	e, err := r.Lookup(deviceID)
	if err != nil {
		return MonitorSetting{}, err
	}
	return e.MonitorSetting(monitorID, settingID)
}

// Subscribe returns a queue receiving Added and Removed envelopes for every
// change committed after the call.
func (r *Registry) Subscribe() *notify.Queue[Entry] {
	return r.hub.Subscribe()
}

// Unsubscribe detaches a queue obtained from Subscribe.
func (r *Registry) Unsubscribe(q *notify.Queue[Entry]) {
	r.hub.Unsubscribe(q)
}

// Watch returns a sequence that first yields one Enumeration envelope per
// live driver, then the Added and Removed envelopes of later changes.
//
// The snapshot and the subscription are taken together, so no change is
// missed or reported twice. Iteration ends when ctx is done or the consumer
// stops; the subscription is released either way. A change burst larger
// than the queue buffer can still drop live envelopes.
func (r *Registry) Watch(ctx context.Context) iter.Seq[notify.Envelope[Entry]] {
	return r.watch(ctx, func(Entry) bool { return true })
}

// WatchFeature is Watch restricted to drivers carrying every feature in f.
// A driver's features never change while it is registered, so each driver
// yields at most one Enumeration or Added envelope and one Removed envelope.
func (r *Registry) WatchFeature(ctx context.Context, f Features) iter.Seq[notify.Envelope[Entry]] {
	return r.watch(ctx, func(e Entry) bool { return e.Features.Has(f) })
}

func (r *Registry) watch(ctx context.Context, keep func(Entry) bool) iter.Seq[notify.Envelope[Entry]] {
	return func(yield func(notify.Envelope[Entry]) bool) {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		// Waiting on emitMu flushes a commit whose publish is still pending.
		r.emitMu.Lock()
		snap := r.state.Load()
		q := r.hub.Subscribe()
		r.emitMu.Unlock()
		r.sem.Release(1)

		defer r.hub.Unsubscribe(q)

		for _, e := range sortedEntries(snap.entries) {
			if ctx.Err() != nil {
				return
			}
			if keep(e) && !yield(notify.NewEnvelope(notify.KindEnumeration, e)) {
				return
			}
		}
		notify.Drain(ctx, q, func(env notify.Envelope[Entry]) bool {
			return !keep(env.Payload) || yield(env)
		})
	}
}

// Close detaches every subscriber. The registry stays readable.
func (r *Registry) Close() {
	r.hub.Close()
}

// owns reports whether h is the live driver for its device ID.
func (s *snapshot) owns(h *Handle) bool {
	e, exists := s.entries[h.id]
	return exists && e.handle == h && h.State() == StateActive
}

func newSnapshot(entries map[uuid.UUID]Entry) *snapshot {
	return &snapshot{entries: entries, stats: computeStats(entries)}
}

func sortedEntries(m map[uuid.UUID]Entry) []Entry {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out
}
