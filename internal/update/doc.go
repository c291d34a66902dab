// Package update defines the per-domain change records that flow through
// notification hubs: cooling changes, power-device settings, sensor
// configuration, lighting-zone effects and menu mutations.
//
// Each record is an immutable value whose Key names the entity it is ordered
// by. Hubs groups one notify.Hub per record type, and Dispatcher checks an
// update against the live driver set before publishing it.
package update
