// Package bridge connects devicehub-core to device agents on an MQTT bus.
//
// Agents announce and withdraw drivers on the discovery topics and push
// configuration changes on the update topics. The bridge turns those
// messages into registry and dispatcher calls, then (optionally) relays
// every resulting notification back onto the bus as JSON envelopes so that
// remote consumers see the same stream as in-process subscribers.
//
// Drivers announced on the bus are added through a driver.Scope owned by
// the bridge. A removal message only reaches those drivers, and Stop removes
// the ones still registered.
//
// # Topics
//
// With the default prefix "devicehub":
//
//	devicehub/discovery/added      driver.Info
//	devicehub/discovery/removed    {"id": "..."} or {"key": "..."}
//	devicehub/update/cooling       update.CoolingUpdate
//	devicehub/update/menu_item     {"kind": "added", "change": {...}}
//	devicehub/event/drivers        notify.Envelope[driver.Entry]
//	devicehub/event/metadata       notify.Envelope[metadata.Archive]
//	devicehub/event/<hub>          notify.Envelope[<update type>]
//
// # Usage
//
//	b, err := bridge.New(bridge.Options{
//	    MQTT:     mqttClient,
//	    Topics:   mqttClient.Topics(),
//	    Registry: registry,
//	    IDStore:  ids,
//	    Hubs:     hubs,
//	    Relay:    true,
//	    Logger:   logger.Component("bridge"),
//	})
//	if err := b.Start(ctx); err != nil { ... }
//	defer b.Stop()
//	go b.Run(ctx)
//
// # Telemetry
//
// Telemetry is a separate sink that records driver counts, configuration
// updates, archive versions and queue drop counters through a
// TelemetryWriter, normally the InfluxDB client.
package bridge
