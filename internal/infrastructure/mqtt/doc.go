// Package mqtt is devicehub-core's link to the device bus.
//
// Agents and the hub talk over three topic trees under a configurable
// prefix (see Topics):
//
//	agents -> <prefix>/discovery/{added,removed}   driver announcements
//	agents -> <prefix>/update/<kind>               configuration changes
//	hub    -> <prefix>/event/<channel>             relayed notifications
//	hub    -> <prefix>/system/status               retained online/offline
//
// Client wraps paho with reconnect handling, subscription replay and the
// retained status message. Agents use the status to decide whether the hub
// is listening: "online" after each connect, "offline" with reason
// "shutdown" from Close, and "offline" with reason "connection_lost" as the
// broker-published will.
//
// Enable TLS (broker.tls) whenever the broker is reachable beyond the host;
// payloads carry no encryption of their own.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Discovery.TopicPrefix})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
