package migrations

import "embed"

// FS contains embedded SQLite migrations for the kiosk directory.
//
//go:embed *.sql
var FS embed.FS
