// Package migrations embeds the sync record schema migrations.
package migrations

import "embed"

//go:embed *.sql
var Embed embed.FS
