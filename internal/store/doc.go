// Package store persists crawl state: pending queue entries, fetch results,
// URL filter patterns and session records.
//
// Two implementations are provided. SQL is backed by sqlx and speaks either
// SQLite (modernc.org/sqlite, a single file under the XDG data directory)
// or PostgreSQL (lib/pq). Memory keeps everything in process and is used
// by tests and short-lived crawls.
//
// Every operation is scoped by session id; sessions never observe each
// other's rows. Deleting something that does not exist is not an error.
package store
