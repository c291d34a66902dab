package metadata

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicehub-core/internal/notify"
)

const defaultStoreTimeout = 5 * time.Second

// Logger defines the logging interface used by the Coordinator.
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

// Store persists committed archives so the set survives restarts.
type Store interface {
	Record(ctx context.Context, a Archive) error
	Delete(ctx context.Context, c Categories) error
	Restore(ctx context.Context) ([]Archive, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLoader replaces the default version-bumping loader.
func WithLoader(l Loader) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.loader = l
		}
	}
}

// WithStore persists every committed change to s.
func WithStore(s Store) Option {
	return func(c *Coordinator) {
		c.store = s
	}
}

// WithQueueSize sets the buffer of queues returned by Subscribe.
func WithQueueSize(n int) Option {
	return func(c *Coordinator) {
		c.queueSize = n
	}
}

// WithPublisher adds a broadcaster that receives every archive envelope.
func WithPublisher(p notify.Publisher[Archive]) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publishers = append(c.publishers, p)
		}
	}
}

// Coordinator follows a metadata Source and keeps the current ArchiveSet.
//
// Each source event is handled in two phases. The load phase builds the new
// archives and can be cancelled without visible effect. The commit phase
// swaps them into a new ArchiveSet with one atomic store and publishes one
// envelope per category; it never observes cancellation, so a reload is
// either fully applied or not at all.
type Coordinator struct {
	src        Source
	loader     Loader
	store      Store
	logger     Logger
	hub        *notify.Hub[Archive]
	publishers []notify.Publisher[Archive]
	queueSize  int

	set      atomic.Pointer[ArchiveSet]
	commitMu sync.Mutex
	running  atomic.Bool
}

// NewCoordinator creates a coordinator for src with an empty archive set.
func NewCoordinator(src Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		src:    src,
		loader: versionLoader{now: func() time.Time { return time.Now().UTC() }},
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.hub = notify.NewHub[Archive]("metadata",
		notify.WithQueueSize(c.queueSize),
		notify.WithLogger(c.logger),
	)
	c.set.Store(&ArchiveSet{})
	return c
}

// Restore seeds the archive set from the store. It publishes nothing and
// should be called before Run.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	archives, err := c.store.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring archives: %w", err)
	}

	c.commitMu.Lock()
	next := c.set.Load().with(archives...)
	c.set.Store(&next)
	c.commitMu.Unlock()

	c.logger.Info("metadata archives restored", "count", len(archives), "categories", next.Categories().String())
	return nil
}

// Run follows the source until ctx is done or the source ends.
//
// It returns nil when ctx is cancelled, ErrSourceClosed when the source
// sequence ends on its own, and an error wrapping ErrSourceFailed when the
// source reports a failure. A failed load skips that event and keeps the
// previous archives.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.logger.Info("metadata watch started")
	defer c.logger.Info("metadata watch stopped")

	for ev, err := range c.src.Watch(ctx) {
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSourceFailed, err)
		}
		c.handle(ctx, ev)
	}

	if ctx.Err() != nil {
		return nil
	}
	return ErrSourceClosed
}

func (c *Coordinator) handle(ctx context.Context, ev SourceEvent) {
	cats := ev.Categories & AllCategories
	if cats == CategoriesNone {
		c.logger.Debug("metadata event without known categories", "source", ev.Source, "categories", ev.Categories.String())
		return
	}

	if ev.Kind == notify.KindRemoved {
		c.remove(ctx, ev.Source, cats)
		return
	}

	archives, err := c.load(ctx, ev, cats)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("metadata reload failed", "source", ev.Source, "categories", cats.String(), "error", err)
		}
		return
	}
	c.commit(ctx, archives)
}

// load builds the new archive of every category in cats. Nothing is
// visible until commit.
func (c *Coordinator) load(ctx context.Context, ev SourceEvent, cats Categories) ([]Archive, error) {
	cur := c.set.Load()
	archives := make([]Archive, 0, cats.Count())
	for cat := range cats.Each() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev, ok := cur.Get(cat)
		a, err := c.loader.Load(ctx, LoadRequest{Category: cat, Event: ev, Previous: prev, HasPrevious: ok})
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", categoryName(cat), err)
		}
		a.Category = cat
		archives = append(archives, a)
	}
	return archives, nil
}

func (c *Coordinator) commit(ctx context.Context, archives []Archive) {
	c.commitMu.Lock()
	cur := *c.set.Load()
	next := cur.with(archives...)
	c.set.Store(&next)
	for _, a := range archives {
		kind := notify.KindUpdated
		if _, existed := cur.Get(a.Category); !existed {
			kind = notify.KindAdded
		}
		c.publish(notify.NewEnvelope(kind, a))
	}
	c.commitMu.Unlock()

	for _, a := range archives {
		c.logger.Info("metadata archive loaded", "category", categoryName(a.Category), "version", a.Version, "source", a.Source)
	}

	if c.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStoreTimeout)
	defer cancel()
	for _, a := range archives {
		if err := c.store.Record(storeCtx, a); err != nil {
			c.logger.Error("failed to persist metadata archive", "category", categoryName(a.Category), "error", err)
		}
	}
}

// remove drops the categories whose archive came from source. An empty
// source drops them regardless of origin.
func (c *Coordinator) remove(ctx context.Context, source string, cats Categories) {
	c.commitMu.Lock()
	cur := *c.set.Load()
	var gone []Archive
	var dropped Categories
	for cat := range cats.Each() {
		a, ok := cur.Get(cat)
		if !ok || (source != "" && a.Source != source) {
			continue
		}
		gone = append(gone, a)
		dropped |= cat
	}
	if dropped == CategoriesNone {
		c.commitMu.Unlock()
		return
	}
	next := cur.without(dropped)
	c.set.Store(&next)
	for _, a := range gone {
		c.publish(notify.NewEnvelope(notify.KindRemoved, a))
	}
	c.commitMu.Unlock()

	c.logger.Info("metadata archives removed", "source", source, "categories", dropped.String())

	if c.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStoreTimeout)
	defer cancel()
	if err := c.store.Delete(storeCtx, dropped); err != nil {
		c.logger.Error("failed to delete persisted metadata archives", "categories", dropped.String(), "error", err)
	}
}

func (c *Coordinator) publish(env notify.Envelope[Archive]) {
	c.hub.Publish(env)
	for _, p := range c.publishers {
		p.Publish(env)
	}
}

// Snapshot returns the current archive set.
func (c *Coordinator) Snapshot() ArchiveSet {
	return *c.set.Load()
}

// Subscribe returns a queue receiving one envelope per committed category
// change.
func (c *Coordinator) Subscribe() *notify.Queue[Archive] {
	return c.hub.Subscribe()
}

// Unsubscribe detaches a queue obtained from Subscribe.
func (c *Coordinator) Unsubscribe(q *notify.Queue[Archive]) {
	c.hub.Unsubscribe(q)
}

// Changes returns a lazy sequence of archive envelopes committed after
// iteration starts.
func (c *Coordinator) Changes(ctx context.Context) iter.Seq[notify.Envelope[Archive]] {
	return c.hub.Watch(ctx)
}

// Watch yields one Enumeration envelope per current archive, then every
// later change. Nothing is missed or duplicated between the two.
func (c *Coordinator) Watch(ctx context.Context) iter.Seq[notify.Envelope[Archive]] {
	return func(yield func(notify.Envelope[Archive]) bool) {
		c.commitMu.Lock()
		set := *c.set.Load()
		q := c.hub.Subscribe()
		c.commitMu.Unlock()

		defer c.hub.Unsubscribe(q)

		for _, a := range set.Archives() {
			if ctx.Err() != nil {
				return
			}
			if !yield(notify.NewEnvelope(notify.KindEnumeration, a)) {
				return
			}
		}
		notify.Drain(ctx, q, yield)
	}
}

// Close detaches every subscriber.
func (c *Coordinator) Close() {
	c.hub.Close()
}
