// Package quota enforces per-organization monthly import quotas.
//
// # Overview
//
// A Tracker accumulates monthly usage for one organization over the lifetime
// of exactly one active import. Batch admission is two-phase: every timestamp
// in the batch is checked against existing usage plus a tentative per-month
// increment local to the call, then all tentative increments are merged into
// shared usage in a single critical section. Within one month, events are
// admitted in input order up to the remaining quota.
//
// Tracker state is a derived cache, not a durable record: losing it resets
// monthly counters, which affects quota precision only, never the integrity
// of the event store.
//
// # Backends
//
// MemoryTracker keeps usage in process memory and is correct when all batches
// of an import are routed to one process. RedisTracker externalizes usage
// into Redis with an atomic grant-if-below script per (organization, month),
// so enforcement stays consistent across horizontally scaled instances.
//
// # Registry
//
// The process-wide Registry maps organization id to its live tracker,
// creating one on first use and evicting it when the import completes or is
// deleted:
//
//	reg := quota.NewRegistry(factory)
//	tracker, err := reg.Obtain(ctx, orgID)
//	admitted := tracker.CanImportBatch(ctx, timestamps)
//	...
//	reg.Evict(ctx, orgID)
package quota
