package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by devicehub.
const (
	MeasurementCooling       = "cooling"
	MeasurementPowerSetting  = "power_settings"
	MeasurementRegistry      = "driver_registry"
	MeasurementArchive       = "metadata_archives"
	MeasurementNotifyQueue   = "notify_queue"
	MeasurementSensorConfigs = "sensor_configuration"
)

// WriteCoolingUpdate records an accepted cooler configuration change.
// A nil power leaves the power field out of the point.
//
// Example:
//
//	client.WriteCoolingUpdate(deviceID, "pump", "manual", &power, env.Time)
func (c *Client) WriteCoolingUpdate(deviceID, coolerID, mode string, power *uint8, at time.Time) {
	fields := map[string]any{
		"mode": mode,
	}
	if power != nil {
		fields["power_percent"] = int64(*power)
	}

	c.writePoint(write.NewPoint(
		MeasurementCooling,
		map[string]string{
			"device_id": deviceID,
			"cooler_id": coolerID,
		},
		fields,
		at,
	))
}

// WritePowerSetting records a power device setting such as the idle timer
// (seconds), the low battery threshold or the wireless brightness.
func (c *Client) WritePowerSetting(deviceID, setting string, value float64, at time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementPowerSetting,
		map[string]string{
			"device_id": deviceID,
			"setting":   setting,
		},
		map[string]any{
			"value": value,
		},
		at,
	))
}

// WriteSensorConfiguration records a sensor rename or favourite toggle.
func (c *Client) WriteSensorConfiguration(deviceID, sensorID string, favorite bool, at time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementSensorConfigs,
		map[string]string{
			"device_id": deviceID,
			"sensor_id": sensorID,
		},
		map[string]any{
			"favorite": favorite,
		},
		at,
	))
}

// WriteDriverCount records the number of registered drivers in a category.
func (c *Client) WriteDriverCount(category string, count int, at time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementRegistry,
		map[string]string{
			"category": category,
		},
		map[string]any{
			"count": int64(count),
		},
		at,
	))
}

// WriteArchiveVersion records a committed metadata archive version.
func (c *Client) WriteArchiveVersion(category, source string, version uint64, at time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementArchive,
		map[string]string{
			"category": category,
			"source":   source,
		},
		map[string]any{
			"version": int64(version), //nolint:gosec // archive versions stay far below 2^63
		},
		at,
	))
}

// WriteQueueDrops records the cumulative drop count of a subscriber queue.
func (c *Client) WriteQueueDrops(channel string, dropped uint64, at time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementNotifyQueue,
		map[string]string{
			"channel": channel,
		},
		map[string]any{
			"dropped": int64(dropped), //nolint:gosec // counter cannot realistically overflow
		},
		at,
	))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "hub-01"},
//	    map[string]any{"goroutines": 42})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	c.writePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
