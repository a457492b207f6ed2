// Package migrations embeds the Postgres schema. Every file is idempotent and applied in name order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
