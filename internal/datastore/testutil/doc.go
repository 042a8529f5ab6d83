// Package testutil provides test helpers for packages that persist through
// the datastore: a migrated throwaway SQLite store and fixture seeding.
package testutil
