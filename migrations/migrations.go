// Package migrations embeds the SQL schema applied at startup.
package migrations

import "embed"

// Files holds the ordered *.sql migration files.
//
//go:embed *.sql
var Files embed.FS
