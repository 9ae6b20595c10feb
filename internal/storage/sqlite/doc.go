// Package sqlite stores pipeline results in SQLite.
//
// The schema lives in embedded golang-migrate migrations and is applied by
// Open. A run is one row in feature_runs; each (batch, frame, key) value is
// one row in feature_values holding its shape as JSON and its samples as a
// little-endian float64 blob.
package sqlite
