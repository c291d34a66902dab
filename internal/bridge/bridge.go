package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/devicehub-core/internal/driver"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/metadata"
	"github.com/nerrad567/devicehub-core/internal/update"
)

// operationTimeout bounds registry work triggered by one MQTT message.
const operationTimeout = 5 * time.Second

// Errors returned by message handlers. They are logged by the MQTT client
// and counted in Metrics.Invalid.
var (
	ErrInvalidPayload = errors.New("bridge: invalid payload")
	ErrUnknownTopic   = errors.New("bridge: unknown topic")
	ErrNotStarted     = errors.New("bridge: not started")
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the part of mqtt.Client the bridge needs.
// It allows a fake broker in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Options holds the bridge's collaborators.
type Options struct {
	// MQTT is required.
	MQTT   MQTTClient
	Topics mqtt.Topics
	QoS    byte

	// Registry and IDStore are required for discovery.
	Registry *driver.Registry
	IDStore  driver.IDStore

	// Hubs is required. Dispatcher defaults to one built from Hubs and Registry.
	Hubs       *update.Hubs
	Dispatcher *update.Dispatcher

	// Metadata is optional; when set its changes are relayed too.
	Metadata *metadata.Coordinator

	// Relay enables republishing notifications on <prefix>/event/<channel>.
	Relay bool

	Logger Logger
}

// Bridge connects device agents on the MQTT bus to the registry and the
// update hubs, and relays notifications back onto the bus.
//
// Inbound:
//
//	<prefix>/discovery/added   driver.Info JSON       → Registry.AddDriver
//	<prefix>/discovery/removed {"id"} or {"key"}      → Registry.RemoveDriver
//	<prefix>/update/<kind>     update JSON            → Dispatcher
//
// Outbound (when Relay is set):
//
//	<prefix>/event/<channel>   notify.Envelope JSON
//
// Drivers discovered over the bus belong to the bridge: a removal message
// can only remove those, and Stop removes whatever is left of them.
type Bridge struct {
	mqtt       MQTTClient
	topics     mqtt.Topics
	qos        byte
	registry   *driver.Registry
	scope      *driver.Scope
	ids        driver.IDStore
	hubs       *update.Hubs
	dispatcher *update.Dispatcher
	metadata   *metadata.Coordinator
	relay      bool
	updates    map[string]func([]byte) error

	ctx       context.Context
	ctxCancel context.CancelFunc
	started   atomic.Bool
	stopOnce  sync.Once

	metrics metrics

	logger   Logger
	loggerMu sync.RWMutex
}

type metrics struct {
	added           atomic.Uint64
	removed         atomic.Uint64
	rejected        atomic.Uint64
	updates         atomic.Uint64
	invalid         atomic.Uint64
	relayed         atomic.Uint64
	publishFailures atomic.Uint64
}

// Metrics is a point-in-time copy of the bridge counters.
type Metrics struct {
	DriversAdded    uint64 `json:"drivers_added"`
	DriversRemoved  uint64 `json:"drivers_removed"`
	Rejected        uint64 `json:"rejected"`
	Updates         uint64 `json:"updates"`
	Invalid         uint64 `json:"invalid"`
	Relayed         uint64 `json:"relayed"`
	PublishFailures uint64 `json:"publish_failures"`
}

// New creates a bridge. Call Start to subscribe and Run to relay.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil || opts.IDStore == nil {
		return nil, fmt.Errorf("registry and ID store are required")
	}
	if opts.Hubs == nil {
		return nil, fmt.Errorf("update hubs are required")
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = update.NewDispatcher(opts.Hubs, opts.Registry)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:       opts.MQTT,
		topics:     opts.Topics,
		qos:        opts.QoS,
		registry:   opts.Registry,
		scope:      opts.Registry.NewScope(),
		ids:        opts.IDStore,
		hubs:       opts.Hubs,
		dispatcher: opts.Dispatcher,
		metadata:   opts.Metadata,
		relay:      opts.Relay,
		ctx:        ctx,
		ctxCancel:  cancel,
		logger:     opts.Logger,
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	b.updates = b.updateHandlers()
	return b, nil
}

// Start subscribes to discovery and update topics. Message handling stops
// when ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	context.AfterFunc(ctx, b.ctxCancel)

	discovery := b.topics.AllDiscovery()
	if err := b.mqtt.Subscribe(discovery, b.qos, b.counted(b.handleDiscovery)); err != nil {
		return fmt.Errorf("subscribe to discovery: %w", err)
	}
	b.getLogger().Info("subscribed to discovery", "topic", discovery)

	updates := b.topics.AllUpdates()
	if err := b.mqtt.Subscribe(updates, b.qos, b.counted(b.handleUpdate)); err != nil {
		return fmt.Errorf("subscribe to updates: %w", err)
	}
	b.getLogger().Info("subscribed to updates", "topic", updates)

	b.started.Store(true)
	return nil
}

// Run relays notifications until ctx is cancelled or every hub is closed.
// With relaying disabled it only waits for ctx.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	if !b.relay {
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay(gctx, b, "drivers", b.registry.Watch(gctx)) })
	if b.metadata != nil {
		g.Go(func() error { return relay(gctx, b, "metadata", b.metadata.Watch(gctx)) })
	}
	g.Go(func() error { return relayHub(gctx, b, b.hubs.Cooling) })
	g.Go(func() error { return relayHub(gctx, b, b.hubs.IdleTimer) })
	g.Go(func() error { return relayHub(gctx, b, b.hubs.LowBatteryThreshold) })
	g.Go(func() error { return relayHub(gctx, b, b.hubs.WirelessBrightness) })
	g.Go(func() error { return relayHub(gctx, b, b.hubs.SensorConfiguration) })
	g.Go(func() error { return relayHub(gctx, b, b.hubs.LightingZoneEffect) })
	g.Go(func() error { return relayHub(gctx, b, b.hubs.MenuItem) })
	return g.Wait()
}

// Stop unsubscribes from the bus, aborts in-flight registry calls and
// removes the drivers discovered over the bus.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		if b.started.Load() {
			for _, topic := range []string{b.topics.AllDiscovery(), b.topics.AllUpdates()} {
				if err := b.mqtt.Unsubscribe(topic); err != nil {
					b.getLogger().Warn("unsubscribe failed", "topic", topic, "error", err)
				}
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()
		n, err := b.scope.Close(ctx)
		if err != nil {
			b.getLogger().Error("removing discovered drivers failed", "error", err)
		}
		b.metrics.removed.Add(uint64(n)) //nolint:gosec // n is a count
		b.getLogger().Info("bridge stopped", "drivers_removed", n)
	})
}

// Metrics returns the current counters.
func (b *Bridge) Metrics() Metrics {
	return Metrics{
		DriversAdded:    b.metrics.added.Load(),
		DriversRemoved:  b.metrics.removed.Load(),
		Rejected:        b.metrics.rejected.Load(),
		Updates:         b.metrics.updates.Load(),
		Invalid:         b.metrics.invalid.Load(),
		Relayed:         b.metrics.relayed.Load(),
		PublishFailures: b.metrics.publishFailures.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// counted wraps a handler so failures show up in Metrics.Invalid.
func (b *Bridge) counted(h mqtt.MessageHandler) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		err := h(topic, payload)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.metrics.invalid.Add(1)
		}
		return err
	}
}
