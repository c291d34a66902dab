package metadata

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/devicehub-core/internal/notify"
)

// chanSource is a Source driven by the test through channels.
type chanSource struct {
	events   chan SourceEvent
	errs     chan error
	released atomic.Bool
}

func newChanSource() *chanSource {
	return &chanSource{events: make(chan SourceEvent), errs: make(chan error, 1)}
}

func (s *chanSource) Watch(ctx context.Context) iter.Seq2[SourceEvent, error] {
	return func(yield func(SourceEvent, error) bool) {
		defer s.released.Store(true)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-s.events:
				if !ok || !yield(ev, nil) {
					return
				}
			case err := <-s.errs:
				yield(SourceEvent{}, err)
				return
			}
		}
	}
}

// runCoordinator starts Run in a goroutine and returns its result channel.
func runCoordinator(ctx context.Context, c *Coordinator) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	return nil
}

func recv(t *testing.T, q *notify.Queue[Archive]) notify.Envelope[Archive] {
	t.Helper()
	select {
	case env, ok := <-q.C():
		if !ok {
			t.Fatal("queue closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for archive envelope")
	}
	return notify.Envelope[Archive]{}
}

func expectNone(t *testing.T, q *notify.Queue[Archive]) {
	t.Helper()
	select {
	case env := <-q.C():
		t.Errorf("unexpected envelope %v %s", env.Kind, env.Payload.Category)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinator_ReloadSwapsOnlyAffectedCategory(t *testing.T) {
	src := newChanSource()
	c := NewCoordinator(src)
	q := c.Subscribe()
	defer c.Unsubscribe(q)

	ctx, cancel := context.WithCancel(context.Background())
	done := runCoordinator(ctx, c)

	src.events <- SourceEvent{Kind: notify.KindAdded, Source: "corsair", Categories: Strings | Sensors | Coolers}
	for i := 0; i < 3; i++ {
		if env := recv(t, q); env.Kind != notify.KindAdded {
			t.Errorf("initial envelope kind = %v, want added", env.Kind)
		}
	}
	before := c.Snapshot()

	src.events <- SourceEvent{Kind: notify.KindUpdated, Source: "corsair", Categories: Sensors}
	env := recv(t, q)
	expectNone(t, q)

	if env.Kind != notify.KindUpdated || env.Payload.Category != Sensors {
		t.Errorf("envelope = %v %s, want updated Sensors", env.Kind, env.Payload.Category)
	}

	after := c.Snapshot()
	sensors, _ := after.Get(Sensors)
	if sensors.Version != 2 {
		t.Errorf("Sensors version = %d, want 2", sensors.Version)
	}
	for _, cat := range []Categories{Strings, Coolers} {
		b, _ := before.Get(cat)
		a, _ := after.Get(cat)
		if a != b {
			t.Errorf("%s archive changed: %+v -> %+v", cat, b, a)
		}
	}
	if _, ok := after.Get(LightingZones); ok {
		t.Error("LightingZones archive appeared")
	}

	cancel()
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() after cancel = %v, want nil", err)
	}
	if !src.released.Load() {
		t.Error("source iteration was not released")
	}
}

func TestCoordinator_CancelDuringLoadLeavesStateIntact(t *testing.T) {
	src := newChanSource()
	entered := make(chan struct{})
	loader := LoaderFunc(func(ctx context.Context, req LoadRequest) (Archive, error) {
		if req.Category == Coolers {
			close(entered)
			<-ctx.Done()
			return Archive{}, ctx.Err()
		}
		return Archive{Version: 7, Source: req.Event.Source}, nil
	})

	c := NewCoordinator(src, WithLoader(loader))
	q := c.Subscribe()
	defer c.Unsubscribe(q)

	ctx, cancel := context.WithCancel(context.Background())
	done := runCoordinator(ctx, c)

	src.events <- SourceEvent{Kind: notify.KindUpdated, Source: "corsair", Categories: Sensors | Coolers}
	<-entered
	cancel()

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if n := c.Snapshot().Len(); n != 0 {
		t.Errorf("snapshot has %d archives after cancelled reload, want 0", n)
	}
	expectNone(t, q)
}

func TestCoordinator_CancelAfterLoadCommitsFully(t *testing.T) {
	src := newChanSource()
	ctx, cancel := context.WithCancel(context.Background())
	loader := LoaderFunc(func(_ context.Context, req LoadRequest) (Archive, error) {
		if req.Category == Coolers {
			// Cancellation arrives once every archive is built.
			cancel()
		}
		return Archive{Version: 1, Source: req.Event.Source}, nil
	})

	c := NewCoordinator(src, WithLoader(loader))
	q := c.Subscribe()
	defer c.Unsubscribe(q)

	done := runCoordinator(ctx, c)
	src.events <- SourceEvent{Kind: notify.KindUpdated, Source: "corsair", Categories: Sensors | Coolers}

	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}

	snap := c.Snapshot()
	if snap.Categories() != Sensors|Coolers {
		t.Errorf("snapshot categories = %s, want Sensors|Coolers", snap.Categories())
	}
	got := recv(t, q).Payload.Category | recv(t, q).Payload.Category
	if got != Sensors|Coolers {
		t.Errorf("published categories = %s, want Sensors|Coolers", got)
	}
	expectNone(t, q)
}

func TestCoordinator_TerminalConditions(t *testing.T) {
	t.Run("source closed", func(t *testing.T) {
		src := newChanSource()
		c := NewCoordinator(src)
		done := runCoordinator(context.Background(), c)
		close(src.events)

		if err := waitRun(t, done); !errors.Is(err, ErrSourceClosed) {
			t.Errorf("Run() = %v, want ErrSourceClosed", err)
		}
	})

	t.Run("source failed", func(t *testing.T) {
		src := newChanSource()
		c := NewCoordinator(src)
		done := runCoordinator(context.Background(), c)
		boom := errors.New("provider crashed")
		src.errs <- boom

		err := waitRun(t, done)
		if !errors.Is(err, ErrSourceFailed) || !errors.Is(err, boom) {
			t.Errorf("Run() = %v, want ErrSourceFailed wrapping the source error", err)
		}
	})

	t.Run("already running", func(t *testing.T) {
		src := newChanSource()
		c := NewCoordinator(src)
		ctx, cancel := context.WithCancel(context.Background())
		done := runCoordinator(ctx, c)

		// Wait until the first Run holds the running flag.
		deadline := time.Now().Add(time.Second)
		for !c.running.Load() {
			if time.Now().After(deadline) {
				t.Fatal("Run did not start")
			}
			time.Sleep(time.Millisecond)
		}

		if err := c.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
		}
		cancel()
		waitRun(t, done)
	})
}

func TestCoordinator_LoadFailureKeepsPreviousArchive(t *testing.T) {
	src := newChanSource()
	var fail atomic.Bool
	loader := LoaderFunc(func(_ context.Context, req LoadRequest) (Archive, error) {
		if fail.Load() {
			return Archive{}, errors.New("corrupt archive")
		}
		return Archive{Version: req.Previous.Version + 1, Source: req.Event.Source}, nil
	})

	c := NewCoordinator(src, WithLoader(loader))
	q := c.Subscribe()
	defer c.Unsubscribe(q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCoordinator(ctx, c)

	src.events <- SourceEvent{Kind: notify.KindAdded, Source: "a", Categories: Sensors}
	recv(t, q)

	fail.Store(true)
	src.events <- SourceEvent{Kind: notify.KindUpdated, Source: "a", Categories: Sensors}
	expectNone(t, q)

	a, _ := c.Snapshot().Get(Sensors)
	if a.Version != 1 {
		t.Errorf("Sensors version = %d, want 1", a.Version)
	}
}

func TestCoordinator_Remove(t *testing.T) {
	src := newChanSource()
	c := NewCoordinator(src)
	q := c.Subscribe()
	defer c.Unsubscribe(q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCoordinator(ctx, c)

	src.events <- SourceEvent{Kind: notify.KindAdded, Source: "a", Categories: Strings | LightingZones}
	recv(t, q)
	recv(t, q)

	// Removal from a different source leaves the archive alone.
	src.events <- SourceEvent{Kind: notify.KindRemoved, Source: "b", Categories: LightingZones}
	expectNone(t, q)

	src.events <- SourceEvent{Kind: notify.KindRemoved, Source: "a", Categories: LightingZones}
	env := recv(t, q)
	if env.Kind != notify.KindRemoved || env.Payload.Category != LightingZones {
		t.Errorf("envelope = %v %s, want removed LightingZones", env.Kind, env.Payload.Category)
	}
	if got := c.Snapshot().Categories(); got != Strings {
		t.Errorf("snapshot categories = %s, want Strings", got)
	}
}

func TestCoordinator_Watch(t *testing.T) {
	src := newChanSource()
	c := NewCoordinator(src)
	q := c.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCoordinator(ctx, c)

	src.events <- SourceEvent{Kind: notify.KindAdded, Source: "a", Categories: Strings}
	recv(t, q)
	c.Unsubscribe(q)

	out := make(chan notify.Envelope[Archive], 4)
	go func() {
		for env := range c.Watch(ctx) {
			out <- env
		}
	}()

	first := <-out
	if first.Kind != notify.KindEnumeration || first.Payload.Category != Strings {
		t.Errorf("first = %v %s, want enumeration Strings", first.Kind, first.Payload.Category)
	}

	src.events <- SourceEvent{Kind: notify.KindAdded, Source: "a", Categories: Coolers}
	select {
	case env := <-out:
		if env.Kind != notify.KindAdded || env.Payload.Category != Coolers {
			t.Errorf("second = %v %s, want added Coolers", env.Kind, env.Payload.Category)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not deliver live change")
	}
}

func setupArchiveDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE metadata_archives (
		category  INTEGER PRIMARY KEY,
		version   INTEGER NOT NULL,
		source    TEXT NOT NULL,
		path      TEXT NOT NULL DEFAULT '',
		loaded_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("creating metadata_archives table: %v", err)
	}
	return db
}

func TestCoordinator_StoreRoundTrip(t *testing.T) {
	db := setupArchiveDB(t)
	store := NewSQLiteStore(db)

	src := newChanSource()
	c := NewCoordinator(src, WithStore(store))
	q := c.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := runCoordinator(ctx, c)

	src.events <- SourceEvent{Kind: notify.KindAdded, Source: "a", Categories: Sensors | Coolers}
	recv(t, q)
	recv(t, q)
	src.events <- SourceEvent{Kind: notify.KindRemoved, Source: "a", Categories: Coolers}
	recv(t, q)

	// The store write follows the publish; stop Run so it has finished.
	cancel()
	waitRun(t, done)

	restored := NewCoordinator(newChanSource(), WithStore(store))
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	snap := restored.Snapshot()
	if snap.Categories() != Sensors {
		t.Fatalf("restored categories = %s, want Sensors", snap.Categories())
	}
	a, _ := snap.Get(Sensors)
	if a.Version != 1 || a.Source != "a" {
		t.Errorf("restored archive = %+v", a)
	}

	// A later reload continues from the restored version.
	src2 := newChanSource()
	c2 := NewCoordinator(src2, WithStore(store))
	c2.Restore(context.Background())
	q2 := c2.Subscribe()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	runCoordinator(ctx2, c2)
	src2.events <- SourceEvent{Kind: notify.KindUpdated, Source: "a", Categories: Sensors}
	env := recv(t, q2)
	if env.Kind != notify.KindUpdated || env.Payload.Version != 2 {
		t.Errorf("reload after restore = %v v%d, want updated v2", env.Kind, env.Payload.Version)
	}
}
