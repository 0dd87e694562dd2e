// Package events defines the internal event record and the analytical event
// store holding ingested rows.
//
// Every stored row is tagged with the import that produced it, so a completed
// import can be rolled back with a single delete-by-predicate. Bulk inserts
// are all-or-nothing: a batch either lands completely or not at all, which is
// what makes client-side retry of a failed batch safe.
//
// # Usage Example
//
//	store := events.NewPostgresStore(db)
//	if err := store.InsertBatch(ctx, batch); err != nil {
//		// batch not applied, caller retries
//	}
//	deleted, err := store.DeleteByImport(ctx, siteID, importID)
//
// # Related Packages
//
//   - pkg/platforms: raw record -> Event transformation
//   - pkg/pipeline: batch orchestration
package events
