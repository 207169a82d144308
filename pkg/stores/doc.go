// Package stores persists pipeline run history in SQLite.
//
// Each run, every node execution and the run log are recorded. The schema
// is managed with embedded golang-migrate migrations. Recorder adapts a
// SQLiteStore into an engine.Observer so history is written as runs progress.
package stores
