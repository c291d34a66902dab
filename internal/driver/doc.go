// Package driver provides the Driver Registry for devicehub-core.
//
// The registry is the authoritative inventory of connected hardware-device
// drivers: lighting controllers, sensors, coolers, power devices, embedded
// monitors and menus. Discovery collaborators add and remove driver handles;
// everything else reads immutable entries or subscribes to change envelopes.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                           Driver Registry                            │
//	│                                                                      │
//	│  AddDriver / RemoveDriver                                            │
//	│        │                                                             │
//	│        ▼                                                             │
//	│  ┌──────────────┐  store  ┌────────────────────┐                     │
//	│  │ semaphore(1) │───────▶ │ atomic snapshot    │◀── Lookup, Entries, │
//	│  │ (ctx-aware)  │         │ entries + Stats    │    Stats, Cooler... │
//	│  └──────┬───────┘         └────────────────────┘                     │
//	│         │ emitMu handoff                                             │
//	│         ▼                                                            │
//	│  ┌──────────────────┐                                                │
//	│  │ notify.Hub[Entry]│──▶ Subscribe / Watch / extra publishers        │
//	│  └──────────────────┘                                                │
//	└──────────────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Handle: identity of one driver instance, compared by pointer
//   - Entry: immutable snapshot of a live driver with aggregated capabilities
//   - Stats: totals and capability unions over all live drivers
//   - NotFoundError: tagged not-found error, one Resource per component kind
//   - IDStore: stable device ID per configuration key
//
// # Usage
//
//	ids := driver.NewSQLiteIDStore(db.DB)
//	registry := driver.NewRegistry(driver.WithLogger(log))
//
//	h, err := driver.NewHandle(ctx, ids, driver.Info{Key: "usb:1b1c:1b2d", Name: "K70"})
//	if err != nil {
//	    return err
//	}
//	if ok, err := registry.AddDriver(ctx, h); err != nil {
//	    return err
//	} else if !ok {
//	    log.Warn("driver already present", "id", h.ID())
//	}
//
//	for env := range registry.Watch(ctx) {
//	    // Enumeration envelopes for existing drivers, then Added/Removed
//	}
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Mutations are serialised
// by one coarse lock because the aggregated statistics span every driver.
// Reads never take that lock.
package driver
