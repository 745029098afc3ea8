// Package migrate runs the fixed set of idempotent DDL statements the
// core schema needs. It deliberately does not attempt versioned,
// rollback-capable migrations: spec.md treats schema migrations as an
// external collaborator, and the concrete statements here exist only so
// boot (internal/boot) has something runnable out of the box.
package migrate

import (
	"context"
	_ "embed"
	"strings"

	"github.com/chaindexer/chaindexer/internal/repo"
)

//go:embed sql/0001_init.sql
var initSQL string

// Run applies every embedded statement against r. Statements are split on
// ";" at the end of a line and executed one at a time, stopping at the
// first error, which is returned as is. They are not run in one
// transaction: every statement is already its own IF NOT EXISTS no-op on
// retry.
func Run(ctx context.Context, r repo.RawQuery) error {
	for _, stmt := range splitStatements(initSQL) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := r.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func splitStatements(sql string) []string {
	return strings.Split(sql, ";\n")
}
