package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/notify"
	"github.com/nerrad567/devicehub-core/internal/update"
)

// MenuItemMessage is the payload of <prefix>/update/menu_item. Kind selects
// insert (added), remove (removed) or replace (updated).
type MenuItemMessage struct {
	Kind   notify.Kind           `json:"kind"`
	Change update.MenuItemChange `json:"change"`
}

// updateHandlers maps each hub name, which doubles as the topic's kind
// segment, to a decoder feeding the dispatcher.
func (b *Bridge) updateHandlers() map[string]func([]byte) error {
	d := b.dispatcher
	return map[string]func([]byte) error{
		b.hubs.Cooling.Name():             decodeInto(d.Cooling),
		b.hubs.IdleTimer.Name():           decodeInto(d.IdleTimer),
		b.hubs.LowBatteryThreshold.Name(): decodeInto(d.LowBatteryThreshold),
		b.hubs.WirelessBrightness.Name():  decodeInto(d.WirelessBrightness),
		b.hubs.SensorConfiguration.Name(): decodeInto(d.SensorConfiguration),
		b.hubs.LightingZoneEffect.Name():  decodeInto(d.LightingZoneEffect),
		b.hubs.MenuItem.Name(): decodeInto(func(m MenuItemMessage) error {
			return d.MenuItem(m.Kind, m.Change)
		}),
	}
}

// handleUpdate decodes a configuration update and hands it to the dispatcher.
func (b *Bridge) handleUpdate(topic string, payload []byte) error {
	kind := mqtt.LastSegment(topic)
	handle, ok := b.updates[kind]
	if !ok {
		return fmt.Errorf("%w: update kind %q", ErrUnknownTopic, kind)
	}
	if err := handle(payload); err != nil {
		return fmt.Errorf("%s update: %w", kind, err)
	}
	b.metrics.updates.Add(1)
	return nil
}

func decodeInto[T any](fn func(T) error) func([]byte) error {
	return func(payload []byte) error {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return fn(v)
	}
}
