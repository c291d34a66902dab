package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry is switched off in
	// the config. Callers treat it as "no sink", not as a failure.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	ErrConnectionFailed = errors.New("influxdb: server unreachable")
	ErrNotConnected     = errors.New("influxdb: client closed or never connected")
)
