// Package migrations embeds the SQL schema for identities, messages and sessions.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
