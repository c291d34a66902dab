// Package notify provides the in-process notification fan-out used by
// devicehub-core.
//
// A Hub holds a dynamic set of subscriber queues and delivers every published
// Envelope to each of them independently. Delivery is best-effort: a queue
// that is full, or whose subscriber has gone away, simply misses the envelope.
// Publishers are never blocked or failed by subscriber behaviour.
//
// # Architecture
//
//	┌──────────────┐   Publish(env)   ┌───────────────────────────────┐
//	│  Producers   │ ───────────────▶ │             Hub[T]             │
//	│ (registry,   │                  │                                │
//	│  metadata,   │                  │  queues: map[*Queue[T]]        │
//	│  services)   │                  │  non-blocking send per queue   │
//	└──────────────┘                  └───────┬───────────┬───────────┘
//	                                          │           │
//	                                          ▼           ▼
//	                                   ┌──────────┐ ┌──────────┐
//	                                   │ Queue[T] │ │ Queue[T] │  drained by
//	                                   │ (UI)     │ │ (relay)  │  subscribers
//	                                   └──────────┘ └──────────┘
//
// # Usage
//
//	hub := notify.NewHub[driver.Entry]("drivers")
//
//	q := hub.Subscribe()
//	defer hub.Unsubscribe(q)
//
//	go func() {
//	    for env := range q.C() {
//	        log.Info("driver changed", "kind", env.Kind, "id", env.Payload.ID)
//	    }
//	}()
//
//	hub.Emit(notify.KindAdded, entry)
//
// # Ordering
//
// For a single producer and a single queue, envelopes arrive in publish order.
// Nothing is promised across producers or across queues.
//
// # Thread Safety
//
// All Hub methods are safe for concurrent use. Subscribe and Unsubscribe are
// short, locked set mutations; Publish only ever performs non-blocking sends.
package notify
