// Package pipeline orchestrates bulk imports end to end: admission through
// the concurrency gate, per-batch transformation and quota admission, bulk
// insertion into the event store, progress bookkeeping, and deletion of
// completed imports.
//
// One ProcessBatch call handles one client-submitted chunk. A batch never
// partially applies: either the admitted events land in the store and the
// counters advance, or a storage error leaves everything untouched and the
// client retries the identical batch. Quota and invalid-record rejections are
// normal outcomes recorded in the skipped/invalid counters, not errors.
package pipeline
