// Package migrations embeds the SQL schema so tests and tooling apply the same DDL as deployments.
package migrations

import "embed"

// FS holds the numbered *.sql migration files.
//
//go:embed *.sql
var FS embed.FS
