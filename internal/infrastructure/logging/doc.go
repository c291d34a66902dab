// Package logging sets up the slog logger shared by every devicehub-core
// component.
//
// Records carry service and version fields, plus hub (the configured
// service.id) once configuration is loaded. Components derive tagged
// children:
//
//	log := logging.New(cfg.Logging, version).With("hub", cfg.Service.ID)
//	registry := driver.NewRegistry(driver.WithLogger(log.Component("registry")))
//
// Do not pass secrets as attributes. The MQTT password, InfluxDB token and
// JWT secret are only ever read from config.
package logging
