// Package storage persists users, subscriptions, executions, notifier
// dedup state and the admin audit log in a relational database.
//
// Two dialects are supported: SQLite (modernc.org/sqlite, the default) and
// MySQL (github.com/go-sql-driver/mysql). Schemas are applied with
// golang-migrate from the embedded migrations directory.
package storage
