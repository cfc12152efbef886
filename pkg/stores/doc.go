// Package stores provides the run-history persistence layer for webpilot.
// It includes SQLite-based storage with WAL mode, connection pooling, and
// embedded schema migrations covering runs, phase results, step records,
// and error records. SQLiteStore satisfies engine.RunStore; results are
// saved once at finalize and read back by the history surface.
package stores
