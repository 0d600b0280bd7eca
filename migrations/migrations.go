// Package migrations embeds the pharmacy schema. Files are applied in
// lexical order by database.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
