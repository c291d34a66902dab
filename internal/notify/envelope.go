package notify

import (
	"fmt"
	"time"
)

// Kind tags what an Envelope reports about its payload.
type Kind uint8

// Notification kinds.
const (
	// KindEnumeration reports an entity that already existed when a watch
	// started. It is only produced by snapshot-then-follow watches.
	KindEnumeration Kind = iota
	KindAdded
	KindRemoved
	KindUpdated
)

var kindNames = [...]string{
	KindEnumeration: "enumeration",
	KindAdded:       "added",
	KindRemoved:     "removed",
	KindUpdated:     "updated",
}

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// MarshalText implements encoding.TextMarshaler so kinds encode as names in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("notify: invalid kind %d", k)
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("notify: unknown kind %q", s)
}

// Envelope is one notification: a Kind plus the payload it describes.
//
// Envelopes are passed by value and must be treated as immutable once
// published; payloads should themselves be values or read-only.
type Envelope[T any] struct {
	Kind    Kind      `json:"kind"`
	Payload T         `json:"payload"`
	Time    time.Time `json:"time"`
}

// NewEnvelope stamps a payload with the current UTC time.
func NewEnvelope[T any](kind Kind, payload T) Envelope[T] {
	return Envelope[T]{
		Kind:    kind,
		Payload: payload,
		Time:    time.Now().UTC(),
	}
}
