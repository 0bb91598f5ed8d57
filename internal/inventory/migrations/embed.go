// Package migrations embeds the inventory service schema for golang-migrate.
package migrations

import "embed"

// FS holds the NNNNNN_name.{up,down}.sql files at its root.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory inside FS that holds the migrations.
const Dir = "."
