// Package metadata tracks the current metadata archive of each category and
// fans archive changes out to watchers.
//
// A Coordinator consumes a Source, a lazy and cancellable sequence of change
// events naming the affected categories (Strings, LightingEffects,
// LightingZones, Sensors, Coolers). For each event it loads the new archive
// handles, swaps them into the ArchiveSet in one step and publishes one
// envelope per affected category.
//
//	Source (dir / MQTT) ──▶ Coordinator.Run ──▶ ArchiveSet (atomic)
//	                              │
//	                              ├──▶ notify.Hub[Archive] ──▶ watchers
//	                              └──▶ Store (SQLite)
//
// Run returns when its context is cancelled (nil) or when the source stops
// (ErrSourceClosed, or an error wrapping ErrSourceFailed), so the owner can
// decide whether to restart the watch.
package metadata
