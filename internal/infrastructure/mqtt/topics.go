package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every devicehub topic.
const DefaultTopicPrefix = "devicehub"

// Discovery actions carried as the last segment of a discovery topic.
const (
	DiscoveryAdded   = "added"
	DiscoveryRemoved = "removed"
)

// Topics provides builders for devicehub MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// The zero value uses DefaultTopicPrefix:
//
//	topics := mqtt.Topics{}
//	topic := topics.Event("cooling")
//	// Returns: "devicehub/event/cooling"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// =============================================================================
// Inbound Topics
// =============================================================================

// Discovery returns the topic a device agent publishes driver arrivals and
// departures on.
//
// Example: devicehub/discovery/added
func (t Topics) Discovery(action string) string {
	return fmt.Sprintf("%s/discovery/%s", t.prefix(), action)
}

// Update returns the topic for a configuration update of the given kind.
//
// Example: devicehub/update/cooling
func (t Topics) Update(kind string) string {
	return fmt.Sprintf("%s/update/%s", t.prefix(), kind)
}

// MetadataChanged returns the topic announcing metadata archive changes.
//
// Example: devicehub/metadata/changed
func (t Topics) MetadataChanged() string {
	return fmt.Sprintf("%s/metadata/changed", t.prefix())
}

// =============================================================================
// Outbound Topics
// =============================================================================

// Event returns the topic a notification channel is relayed on.
//
// Example: devicehub/event/drivers
func (t Topics) Event(channel string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), channel)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: devicehub/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDiscovery returns a pattern matching every discovery action.
//
// Pattern: devicehub/discovery/+
func (t Topics) AllDiscovery() string {
	return t.Discovery("+")
}

// AllUpdates returns a pattern matching every update kind.
//
// Pattern: devicehub/update/+
func (t Topics) AllUpdates() string {
	return t.Update("+")
}

// AllEvents returns a pattern matching every relayed notification channel.
//
// Pattern: devicehub/event/+
func (t Topics) AllEvents() string {
	return t.Event("+")
}

// AllTopics returns a pattern matching all devicehub topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: devicehub/#
func (t Topics) AllTopics() string {
	return t.prefix() + "/#"
}

// LastSegment returns the final level of a topic, or "" for an empty topic.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
