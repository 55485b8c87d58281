// Package migrations embeds the netid.db schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
