// Package store persists the users who signed in with Google, the officials
// they own and the record of which officials they have already written to.
//
// Two implementations satisfy Store: Postgres, backed by a pgx connection
// pool with its schema managed by golang-migrate, and Memory, used by tests
// and by `cftmail serve` when no DATABASE_URL is configured.
//
// Officials belong to a user through the database (list) that holds them.
// Ownership is always checked through that chain; an official id alone grants
// nothing.
package store
