package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devicehub-core/internal/driver"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/notify"
	"github.com/nerrad567/devicehub-core/internal/update"
)

type published struct {
	topic   string
	payload []byte
}

// fakeMQTT records subscriptions and publishes, and delivers messages to
// the handler whose wildcard subscription matches.
type fakeMQTT struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	published    []published
	publishErr   error
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic: topic, payload: payload})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeMQTT) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeMQTT) deliver(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	f.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range f.handlers {
		if strings.HasPrefix(topic, strings.TrimSuffix(pattern, "+")) {
			handler = h
		}
	}
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription matches %s", topic)
	}
	return handler(topic, payload)
}

func (f *fakeMQTT) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fixture struct {
	mqtt     *fakeMQTT
	registry *driver.Registry
	ids      *driver.MemoryIDStore
	hubs     *update.Hubs
	bridge   *Bridge
	topics   mqtt.Topics
}

func newFixture(t *testing.T, relay bool) *fixture {
	t.Helper()
	f := &fixture{
		mqtt:     newFakeMQTT(),
		registry: driver.NewRegistry(),
		ids:      driver.NewMemoryIDStore(),
		hubs:     update.NewHubs(),
		topics:   mqtt.Topics{Prefix: mqtt.DefaultTopicPrefix},
	}
	t.Cleanup(f.hubs.Close)
	t.Cleanup(f.registry.Close)

	b, err := New(Options{
		MQTT:     f.mqtt,
		Topics:   f.topics,
		Registry: f.registry,
		IDStore:  f.ids,
		Hubs:     f.hubs,
		Relay:    relay,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)
	f.bridge = b

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return f
}

func coolerInfo(id, coolerID uuid.UUID) driver.Info {
	return driver.Info{
		ID:       id,
		Name:     "H150i",
		Category: driver.CategoryCooler,
		Coolers:  []driver.Cooler{{ID: coolerID, Name: "Pump", Modes: driver.CoolingAutomatic | driver.CoolingManual}},
		Power:    driver.PowerHasBattery | driver.PowerHasIdleTimer,
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	registry := driver.NewRegistry()
	hubs := update.NewHubs()
	defer hubs.Close()

	tests := []struct {
		name string
		opts Options
	}{
		{"no mqtt", Options{Registry: registry, IDStore: driver.NewMemoryIDStore(), Hubs: hubs}},
		{"no registry", Options{MQTT: newFakeMQTT(), IDStore: driver.NewMemoryIDStore(), Hubs: hubs}},
		{"no id store", Options{MQTT: newFakeMQTT(), Registry: registry, Hubs: hubs}},
		{"no hubs", Options{MQTT: newFakeMQTT(), Registry: registry, IDStore: driver.NewMemoryIDStore()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestStart_Subscribes(t *testing.T) {
	f := newFixture(t, false)

	f.mqtt.mu.Lock()
	_, discovery := f.mqtt.handlers["devicehub/discovery/+"]
	_, updates := f.mqtt.handlers["devicehub/update/+"]
	f.mqtt.mu.Unlock()

	if !discovery || !updates {
		t.Errorf("subscriptions: discovery=%v updates=%v, want both", discovery, updates)
	}
}

func TestDiscovery_AddAndRemove(t *testing.T) {
	f := newFixture(t, false)
	id := uuid.New()
	info := coolerInfo(id, uuid.New())

	if err := f.mqtt.deliver(t, "devicehub/discovery/added", mustJSON(t, info)); err != nil {
		t.Fatalf("added: %v", err)
	}
	if f.registry.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", f.registry.Count())
	}

	// A second announcement of the same device is rejected, not an error.
	if err := f.mqtt.deliver(t, "devicehub/discovery/added", mustJSON(t, info)); err != nil {
		t.Fatalf("duplicate added: %v", err)
	}

	if err := f.mqtt.deliver(t, "devicehub/discovery/removed", mustJSON(t, RemovalMessage{ID: id})); err != nil {
		t.Fatalf("removed: %v", err)
	}
	if f.registry.Count() != 0 {
		t.Errorf("Count() after removal = %d, want 0", f.registry.Count())
	}

	m := f.bridge.Metrics()
	if m.DriversAdded != 1 || m.Rejected != 1 || m.DriversRemoved != 1 {
		t.Errorf("Metrics() = %+v, want added=1 rejected=1 removed=1", m)
	}
}

func TestDiscovery_KeyedDevice(t *testing.T) {
	f := newFixture(t, false)
	info := driver.Info{Key: "usb:1b1c:0c20", Name: "Commander Pro", Category: driver.CategoryLighting}

	if err := f.mqtt.deliver(t, "devicehub/discovery/added", mustJSON(t, info)); err != nil {
		t.Fatalf("added: %v", err)
	}

	id, err := f.ids.GetOrCreate(context.Background(), info.Key)
	if err != nil {
		t.Fatal(err)
	}
	e, err := f.registry.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup(resolved id) error = %v", err)
	}
	if e.Key != info.Key {
		t.Errorf("entry key = %q, want %q", e.Key, info.Key)
	}

	if err := f.mqtt.deliver(t, "devicehub/discovery/removed", mustJSON(t, RemovalMessage{Key: info.Key})); err != nil {
		t.Fatalf("removed by key: %v", err)
	}
	if f.registry.Count() != 0 {
		t.Errorf("Count() = %d, want 0", f.registry.Count())
	}
}

func TestDiscovery_RemovalOfUnknownKeyStoresNothing(t *testing.T) {
	f := newFixture(t, false)

	for i := range 100 {
		key := fmt.Sprintf("ghost-%d", i)
		if err := f.mqtt.deliver(t, "devicehub/discovery/removed", mustJSON(t, RemovalMessage{Key: key})); err != nil {
			t.Fatalf("removal of %s: %v", key, err)
		}
	}

	for i := range 100 {
		key := fmt.Sprintf("ghost-%d", i)
		if _, ok, _ := f.ids.Lookup(context.Background(), key); ok {
			t.Fatalf("id store holds an id for %s after a removal", key)
		}
	}
	m := f.bridge.Metrics()
	if m.Rejected != 100 {
		t.Errorf("Metrics().Rejected = %d, want 100", m.Rejected)
	}
	if m.Invalid != 0 || m.DriversRemoved != 0 {
		t.Errorf("Metrics() = %+v, want only rejections", m)
	}
}

func TestDiscovery_Errors(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		wantErr error
	}{
		{"malformed add", "devicehub/discovery/added", []byte("{"), ErrInvalidPayload},
		{"invalid info", "devicehub/discovery/added", []byte(`{"name":""}`), driver.ErrInvalidHandle},
		{"malformed removal", "devicehub/discovery/removed", []byte("nope"), ErrInvalidPayload},
		{"empty removal", "devicehub/discovery/removed", []byte(`{}`), ErrInvalidPayload},
		{"unknown device", "devicehub/discovery/removed", mustJSON(t, RemovalMessage{ID: uuid.New()}), driver.ErrDeviceNotFound},
		{"unknown action", "devicehub/discovery/renamed", []byte(`{}`), ErrUnknownTopic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.mqtt.deliver(t, tt.topic, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := f.bridge.Metrics().Invalid; got != uint64(len(tests)) {
		t.Errorf("Metrics().Invalid = %d, want %d", got, len(tests))
	}
}

func TestUpdates_Dispatch(t *testing.T) {
	f := newFixture(t, false)
	id, coolerID := uuid.New(), uuid.New()
	if err := f.mqtt.deliver(t, "devicehub/discovery/added", mustJSON(t, coolerInfo(id, coolerID))); err != nil {
		t.Fatal(err)
	}

	cooling := f.hubs.Cooling.Subscribe()
	defer f.hubs.Cooling.Unsubscribe(cooling)
	menu := f.hubs.MenuItem.Subscribe()
	defer f.hubs.MenuItem.Unsubscribe(menu)

	power := uint8(40)
	err := f.mqtt.deliver(t, "devicehub/update/cooling", mustJSON(t, update.CoolingUpdate{
		DeviceID: id, CoolerID: coolerID, Mode: driver.CoolingManual, Power: &power,
	}))
	if err != nil {
		t.Fatalf("cooling update: %v", err)
	}

	select {
	case env := <-cooling.C():
		if env.Kind != notify.KindUpdated || env.Payload.CoolerID != coolerID || *env.Payload.Power != 40 {
			t.Errorf("cooling envelope = %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("no cooling envelope")
	}

	parent := uuid.New()
	err = f.mqtt.deliver(t, "devicehub/update/menu_item", mustJSON(t, MenuItemMessage{
		Kind:   notify.KindRemoved,
		Change: update.MenuItemChange{ParentItemID: parent, Position: 2},
	}))
	if err != nil {
		t.Fatalf("menu update: %v", err)
	}
	select {
	case env := <-menu.C():
		if env.Kind != notify.KindRemoved || env.Payload.ParentItemID != parent {
			t.Errorf("menu envelope = %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("no menu envelope")
	}

	if got := f.bridge.Metrics().Updates; got != 2 {
		t.Errorf("Metrics().Updates = %d, want 2", got)
	}
}

func TestUpdates_Errors(t *testing.T) {
	f := newFixture(t, false)
	id := uuid.New()
	if err := f.mqtt.deliver(t, "devicehub/discovery/added", mustJSON(t, coolerInfo(id, uuid.New()))); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		wantErr error
	}{
		{"unknown kind", "devicehub/update/fan_curve", []byte(`{}`), ErrUnknownTopic},
		{"malformed", "devicehub/update/idle_timer", []byte(`[`), ErrInvalidPayload},
		{"unknown device", "devicehub/update/idle_timer", mustJSON(t, update.IdleTimerUpdate{DeviceID: uuid.New()}), driver.ErrDeviceNotFound},
		{"unsupported setting", "devicehub/update/wireless_brightness", mustJSON(t, update.WirelessBrightnessUpdate{DeviceID: id, Brightness: 3}), update.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.mqtt.deliver(t, tt.topic, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if got := f.bridge.Metrics().Updates; got != 0 {
		t.Errorf("Metrics().Updates = %d, want 0", got)
	}
}

func TestRun_NotStarted(t *testing.T) {
	hubs := update.NewHubs()
	defer hubs.Close()
	b, err := New(Options{MQTT: newFakeMQTT(), Registry: driver.NewRegistry(), IDStore: driver.NewMemoryIDStore(), Hubs: hubs})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Run(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Run() error = %v, want ErrNotStarted", err)
	}
}

func TestRun_RelaysEvents(t *testing.T) {
	f := newFixture(t, true)
	id, coolerID := uuid.New(), uuid.New()

	// Registered before Run starts, so it arrives as an enumeration.
	if err := f.mqtt.deliver(t, "devicehub/discovery/added", mustJSON(t, coolerInfo(id, coolerID))); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bridge.Run(ctx) }()

	driversTopic := f.topics.Event("drivers")
	waitFor(t, "driver enumeration", func() bool { return len(f.mqtt.publishedTo(driversTopic)) == 1 })

	var env struct {
		Kind    string       `json:"kind"`
		Payload driver.Entry `json:"payload"`
	}
	if err := json.Unmarshal(f.mqtt.publishedTo(driversTopic)[0].payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.Kind != "enumeration" || env.Payload.ID != id {
		t.Errorf("relayed envelope = %s %s, want enumeration %s", env.Kind, env.Payload.ID, id)
	}

	// Hub relays subscribe lazily; keep dispatching until one lands.
	coolingTopic := f.topics.Event(f.hubs.Cooling.Name())
	waitFor(t, "cooling relay", func() bool {
		_ = f.bridge.dispatcher.Cooling(update.CoolingUpdate{DeviceID: id, CoolerID: coolerID, Mode: driver.CoolingAutomatic})
		return len(f.mqtt.publishedTo(coolingTopic)) > 0
	})

	if err := f.mqtt.deliver(t, "devicehub/discovery/removed", mustJSON(t, RemovalMessage{ID: id})); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "driver removal", func() bool { return len(f.mqtt.publishedTo(driversTopic)) == 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if f.bridge.Metrics().Relayed < 3 {
		t.Errorf("Metrics().Relayed = %d, want >= 3", f.bridge.Metrics().Relayed)
	}
}

func TestRun_PublishFailuresCounted(t *testing.T) {
	f := newFixture(t, true)
	f.mqtt.publishErr = errors.New("broker gone")
	if err := f.mqtt.deliver(t, "devicehub/discovery/added", mustJSON(t, coolerInfo(uuid.New(), uuid.New()))); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.bridge.Run(ctx) }()

	waitFor(t, "publish failure", func() bool { return f.bridge.Metrics().PublishFailures > 0 })
}

func TestDiscovery_RemovalLeavesOtherDrivers(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id := uuid.New()

	h, err := driver.NewHandle(ctx, f.ids, coolerInfo(id, uuid.New()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.AddDriver(ctx, h); err != nil {
		t.Fatal(err)
	}

	if err := f.mqtt.deliver(t, "devicehub/discovery/removed", mustJSON(t, RemovalMessage{ID: id})); err != nil {
		t.Fatalf("removed: %v", err)
	}
	if f.registry.Count() != 1 {
		t.Errorf("Count() = %d, want 1", f.registry.Count())
	}
	if m := f.bridge.Metrics(); m.Rejected != 1 || m.DriversRemoved != 0 {
		t.Errorf("Metrics() = %+v, want rejected=1 removed=0", m)
	}
}

func TestStop_RemovesDiscoveredDrivers(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for range 3 {
		if err := f.mqtt.deliver(t, "devicehub/discovery/added", mustJSON(t, coolerInfo(uuid.New(), uuid.New()))); err != nil {
			t.Fatalf("added: %v", err)
		}
	}
	local, err := driver.NewHandle(ctx, f.ids, coolerInfo(uuid.New(), uuid.New()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.AddDriver(ctx, local); err != nil {
		t.Fatal(err)
	}

	f.bridge.Stop()

	if f.registry.Count() != 1 {
		t.Errorf("Count() after Stop = %d, want 1", f.registry.Count())
	}
	if local.State() != driver.StateActive {
		t.Errorf("local driver state = %v, want active", local.State())
	}
	if got := f.bridge.Metrics().DriversRemoved; got != 3 {
		t.Errorf("Metrics().DriversRemoved = %d, want 3", got)
	}
}

func TestStop_Unsubscribes(t *testing.T) {
	f := newFixture(t, false)
	f.bridge.Stop()
	f.bridge.Stop()

	f.mqtt.mu.Lock()
	defer f.mqtt.mu.Unlock()
	if len(f.mqtt.unsubscribed) != 2 {
		t.Errorf("unsubscribed = %v, want discovery and update topics", f.mqtt.unsubscribed)
	}
	if len(f.mqtt.handlers) != 0 {
		t.Errorf("handlers left after Stop: %d", len(f.mqtt.handlers))
	}
}
