// Package postgres manages the relational store connections and schema.
//
// The ConnectionManager holds one primary pool for writes plus optional read
// replicas picked round-robin for read paths. Unhealthy replicas fall out of
// rotation; with none left, reads go to the primary.
//
// Migrations are embedded SQL applied in order, one transaction each, with
// applied versions tracked in a schema_migrations table so startup is
// idempotent.
package postgres
