package database

import _ "embed"

// Schema is the full history schema as produced by the migrations, for
// tests that want a ready database without running migrate.
//
//go:embed schema.sql
var Schema string
