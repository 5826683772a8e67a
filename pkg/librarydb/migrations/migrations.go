// Package migrations embeds the postgres schema migrations used by
// librarydb.Open when Config.Driver is postgres.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
