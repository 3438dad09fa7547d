package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE clients (
			hostname   TEXT PRIMARY KEY NOT NULL,
			permission BLOB NOT NULL,
			token      TEXT NOT NULL UNIQUE
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create clients table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX clients_token_idx ON clients(token)`); err != nil {
		return fmt.Errorf("create clients token index: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX clients_token_idx`); err != nil {
		return fmt.Errorf("drop clients_token_idx index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE clients`); err != nil {
		return fmt.Errorf("drop clients table: %w", err)
	}
	return nil
}
