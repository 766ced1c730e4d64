package sql

import _ "embed"

// Schema is the database schema, applied on every open. All statements are
// idempotent so re-running it against an existing database is safe.
//
//go:embed schema.sql
var Schema string
