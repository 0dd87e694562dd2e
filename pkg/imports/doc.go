// Package imports holds the durable registry of bulk import jobs and the
// per-organization admission gate.
//
// An import job moves through pending -> processing -> completed; it has no
// failed state. Progress counters (imported, skipped, invalid events) are
// advisory and updated per batch. CompletedAt is set exactly once and marks
// the job terminal; only terminal jobs may be deleted.
//
// The gate guarantees at most N open (non-terminal) imports per organization,
// N defaulting to 1. CreateWithCheck closes the check-then-act race by taking
// a row-level lock on the organization inside the insert transaction and
// re-counting open imports under that lock, so concurrent creation attempts
// for one organization serialize while other organizations stay unaffected.
package imports
