package bridge

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/nerrad567/devicehub-core/internal/notify"
)

// relay publishes every envelope of seq on the channel's event topic. It
// returns when seq ends. Publish failures are logged and counted, never fatal.
func relay[T any](_ context.Context, b *Bridge, channel string, seq iter.Seq[notify.Envelope[T]]) error {
	topic := b.topics.Event(channel)
	for env := range seq {
		payload, err := json.Marshal(env)
		if err != nil {
			b.getLogger().Error("encoding envelope failed", "channel", channel, "error", err)
			continue
		}
		if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
			b.metrics.publishFailures.Add(1)
			b.getLogger().Warn("relay publish failed", "topic", topic, "error", err)
			continue
		}
		b.metrics.relayed.Add(1)
	}
	return nil
}

func relayHub[T any](ctx context.Context, b *Bridge, hub *notify.Hub[T]) error {
	return relay(ctx, b, hub.Name(), hub.Watch(ctx))
}
