// Package migrations embeds the goose SQL migrations applied by dwspctl migrate.
package migrations

import "embed"

//go:embed compliance/*.sql
var FS embed.FS

const ComplianceDir = "compliance"
