// Package influxdb is the telemetry sink for devicehub-core.
//
// The bridge's telemetry recorder turns notifications into points:
//
//	cooling                mode and power of accepted cooler changes
//	power_settings         idle timer, low battery threshold, wireless brightness
//	sensor_configuration   favourite toggles
//	driver_registry        driver count per category
//	metadata_archives      committed archive versions
//	notify_queue           cumulative subscriber queue drops
//
// Writes never block the caller. They are batched by influxdb-client-go and
// failures are reported through SetOnError; only Connect and HealthCheck
// return errors directly.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteDriverCount("cooler", 3, time.Now())
package influxdb
