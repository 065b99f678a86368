// Package migrations embeds the schema migration files applied by the
// "figaro migrate" command.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists migrations in apply order.
var Files = []string{
	"001_create_tasks.sql",
	"002_create_scheduled_tasks.sql",
	"003_create_help_requests.sql",
	"004_create_fleet.sql",
}
