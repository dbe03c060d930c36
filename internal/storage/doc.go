// Package storage persists the bot's six record collections: groups, user
// joins, per-chat moderation statistics, advertisements, per-group ad
// settings and per-(chat, ad) send counters.
//
// Backends:
//   - memory: process-local maps (tests, throwaway runs)
//   - file: memory plus an atomic JSON snapshot after every write
//   - sqlite: modernc.org/sqlite through sqlx, schema via golang-migrate
//   - postgres: lib/pq through sqlx, schema via golang-migrate
//
// Storage holds no business rules beyond the record invariants: groups are
// only soft-deleted, displayOrder is max+1 at insert, and there is at most one
// counter row per (chat, ad).
package storage
