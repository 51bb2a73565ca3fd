// Package migrations embeds the send log schema for goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
