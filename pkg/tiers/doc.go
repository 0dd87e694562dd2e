// Package tiers resolves an organization's subscription plan into import
// limits: the maximum events per calendar month and the oldest month the
// organization is allowed to backfill.
//
// The rest of the product owns billing; this package only reads the result.
// Three resolvers are provided:
//
//   - PostgresResolver reads the organization's plan tier from the relational
//     store.
//   - FileResolver loads a tier table from a YAML file and hot-reloads it on
//     change, for deployments without a billing database.
//   - CachedResolver decorates any resolver with an expiring LRU so the
//     pipeline does not hit the tier source on every import.
package tiers
