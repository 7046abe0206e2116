// Package table stores fixed-width columns under a catalog root and
// publishes appended rows atomically.
//
// Layout on disk:
//
//	<root>/_tab_index               table name → token, next token
//	<root>/<table>/_meta            columns, row count, txn, compression state
//	<root>/<table>/default/<col>.d  little-endian values, rows × width bytes
//	<root>/<table>/default/<col>.d.c  compressed artifact, optional
//
// A table has at most one Writer. Rows appended through it become visible
// to readers only at Commit, which syncs every column, persists _meta and
// then publishes the new row count and txn under the metadata write lock.
// Readers see either the previous or the new row count, never a mix.
//
// Every commit, compression and raw file retirement produces a new txn.
// Scans pin the txn they read in the table's scoreboard, and raw column
// files retired in favour of compressed artifacts are deleted only once no
// scan is pinned at an older txn.
package table
