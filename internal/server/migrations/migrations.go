// Package migrations embeds the goose SQL migrations for the upload
// pipeline schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
