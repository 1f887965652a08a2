// Package migrations embeds the SQL schema so the api binary can migrate
// itself at startup.
package migrations

import "embed"

//go:embed sql
var FS embed.FS
