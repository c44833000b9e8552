// Package db embeds the database schema so the binary can migrate itself.
package db

import _ "embed"

// Schema holds the DDL for every application table.
//
//go:embed migrations/001_schema.sql
var Schema string
