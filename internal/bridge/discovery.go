package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/devicehub-core/internal/driver"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
)

// RemovalMessage is the payload of <prefix>/discovery/removed.
// Either ID or Key identifies the driver.
type RemovalMessage struct {
	ID  uuid.UUID `json:"id"`
	Key string    `json:"key,omitempty"`
}

// handleDiscovery routes a discovery message by its action segment.
func (b *Bridge) handleDiscovery(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(b.ctx, operationTimeout)
	defer cancel()

	switch action := mqtt.LastSegment(topic); action {
	case mqtt.DiscoveryAdded:
		return b.addDriver(ctx, payload)
	case mqtt.DiscoveryRemoved:
		return b.removeDriver(ctx, payload)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

func (b *Bridge) addDriver(ctx context.Context, payload []byte) error {
	var info driver.Info
	if err := json.Unmarshal(payload, &info); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	h, err := driver.NewHandle(ctx, b.ids, info)
	if err != nil {
		return err
	}

	added, err := b.scope.AddDriver(ctx, h)
	if err != nil {
		return err
	}
	if !added {
		b.metrics.rejected.Add(1)
		b.getLogger().Debug("discovered driver already registered", "id", h.ID(), "name", h.Name())
		return nil
	}

	b.metrics.added.Add(1)
	b.getLogger().Info("driver discovered", "id", h.ID(), "name", h.Name(), "category", info.Category)
	return nil
}

func (b *Bridge) removeDriver(ctx context.Context, payload []byte) error {
	var msg RemovalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	id := msg.ID
	if id == uuid.Nil {
		if msg.Key == "" {
			return fmt.Errorf("%w: removal needs id or key", ErrInvalidPayload)
		}
		known, ok, err := b.ids.Lookup(ctx, msg.Key)
		if err != nil {
			return fmt.Errorf("%w: %w", driver.ErrIDStoreFailed, err)
		}
		if !ok {
			b.metrics.rejected.Add(1)
			b.getLogger().Debug("removal for unknown device key", "key", msg.Key)
			return nil
		}
		id = known
	}

	entry, err := b.registry.Lookup(id)
	if err != nil {
		return err
	}

	removed, err := b.scope.RemoveDriver(ctx, entry.Handle())
	if err != nil {
		return err
	}
	if !removed {
		b.metrics.rejected.Add(1)
		b.getLogger().Debug("driver not removable over the bus", "id", id)
		return nil
	}

	b.metrics.removed.Add(1)
	b.getLogger().Info("driver departed", "id", id, "name", entry.Name)
	return nil
}
