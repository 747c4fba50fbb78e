// Package persistence provides storage for the web UI: browser sessions with their preferences
// and last results, the current run of each session and the history of finished runs.
// The only implementation is SQLite with WAL mode.
package persistence
