// Package migrations embeds the journal schema into the binary so the
// console can create its database without SQL files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root. Pass it as
// database.Config.Migrations.
//
//go:embed *.sql
var FS embed.FS
