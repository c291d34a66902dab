package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/notify"
)

// Subscriber is the part of the MQTT client used by MQTTSource.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTSource reads metadata change events published as JSON on one topic:
//
//	{"kind": "updated", "source": "corsair", "categories": ["Sensors", "Coolers"]}
//
// The subscription is made when iteration starts and dropped when it ends.
type MQTTSource struct {
	client Subscriber
	topic  string
	qos    byte
	buffer int
	logger Logger
}

// NewMQTTSource creates a source reading topic through client.
func NewMQTTSource(client Subscriber, topic string, logger Logger) *MQTTSource {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSource{client: client, topic: topic, qos: 1, buffer: 32, logger: logger}
}

// Watch implements Source.
//
// Malformed messages are logged and skipped. When events arrive faster than
// the coordinator consumes them the oldest pending events are kept and new
// ones are dropped; a dropped reload is recovered by the next one for the
// same categories.
func (s *MQTTSource) Watch(ctx context.Context) iter.Seq2[SourceEvent, error] {
	return func(yield func(SourceEvent, error) bool) {
		events := make(chan SourceEvent, s.buffer)

		handler := func(topic string, payload []byte) error {
			ev, err := decodeSourceEvent(payload)
			if err != nil {
				s.logger.Warn("invalid metadata event", "topic", topic, "error", err)
				return err
			}
			select {
			case events <- ev:
			default:
				s.logger.Warn("metadata event dropped, consumer busy", "source", ev.Source)
			}
			return nil
		}

		if err := s.client.Subscribe(s.topic, s.qos, handler); err != nil {
			yield(SourceEvent{}, fmt.Errorf("subscribing to %s: %w", s.topic, err))
			return
		}
		defer func() {
			if err := s.client.Unsubscribe(s.topic); err != nil {
				s.logger.Warn("failed to unsubscribe metadata topic", "topic", s.topic, "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func decodeSourceEvent(payload []byte) (SourceEvent, error) {
	ev := SourceEvent{Kind: notify.KindUpdated}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return SourceEvent{}, fmt.Errorf("decoding event: %w", err)
	}
	if ev.Source == "" {
		return SourceEvent{}, fmt.Errorf("event has no source")
	}
	if ev.Categories&AllCategories == CategoriesNone {
		return SourceEvent{}, fmt.Errorf("event names no known category")
	}
	switch ev.Kind {
	case notify.KindAdded, notify.KindUpdated, notify.KindRemoved:
	default:
		return SourceEvent{}, fmt.Errorf("unsupported event kind %s", ev.Kind)
	}
	return ev, nil
}
