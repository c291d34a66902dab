package mqtt

import "errors"

// Errors returned by Client. Broker errors are wrapped, so match with errors.Is.
var (
	ErrNotConnected      = errors.New("mqtt: broker link down")
	ErrConnectionFailed  = errors.New("mqtt: cannot reach broker")
	ErrPublishFailed     = errors.New("mqtt: broker rejected publish")
	ErrSubscribeFailed   = errors.New("mqtt: broker rejected subscription")
	ErrUnsubscribeFailed = errors.New("mqtt: broker rejected unsubscription")

	// ErrInvalidQoS rejects anything above QoS 2.
	ErrInvalidQoS   = errors.New("mqtt: qos out of range")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
