// Package testutil provides test helpers for the engine:
//   - Miniredis helpers for redis-backed code (miniredis.go)
//   - Dataset fixtures in every supported source format (fixtures.go)
//
// None of the helpers need Docker or network access.
package testutil
