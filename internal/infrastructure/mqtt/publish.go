package mqtt

import "fmt"

// maxPayloadSize caps outbound messages.
const maxPayloadSize = 1 << 20

// Publish sends payload on topic and waits for the broker to acknowledge it
// (for qos > 0). The bridge relays notification envelopes this way:
//
//	err := client.Publish(client.Topics().Event("drivers"), envelopeJSON, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload on %s", ErrPublishFailed, len(payload), topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// validate rejects an empty topic or a QoS the protocol does not define.
func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
