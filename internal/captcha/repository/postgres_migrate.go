package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SchemaVersion is the migration version that Schema corresponds to. It is
// recorded in the golang-migrate layout, one (version, dirty) row, in a
// "<table>_schema_migrations" table beside the challenge table so that
// several challenge tables can share a schema.
const SchemaVersion = 1

// ErrDirtySchema is returned when a previous migration did not finish.
var ErrDirtySchema = errors.New("captcha schema is dirty")

// MigrationsTable returns the sanitized name of the version table.
func (r *PostgresChallengeRepository) MigrationsTable() string {
	name := r.table + "_schema_migrations"
	if r.schema != "" {
		return pgx.Identifier{r.schema, name}.Sanitize()
	}
	return pgx.Identifier{name}.Sanitize()
}

// DropSchema returns the DDL that removes the challenge table and its index.
func (r *PostgresChallengeRepository) DropSchema() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", r.ident)
}

func (r *PostgresChallengeRepository) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version bigint  NOT NULL PRIMARY KEY,
	dirty   boolean NOT NULL
)`, r.MigrationsTable()))
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

// Version returns the recorded schema version, or 0 when none is recorded.
func (r *PostgresChallengeRepository) Version(ctx context.Context) (version int64, dirty bool, err error) {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return 0, false, err
	}
	err = r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT version, dirty FROM %s ORDER BY version DESC LIMIT 1", r.MigrationsTable()),
	).Scan(&version, &dirty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Migrate applies Schema and records SchemaVersion in one transaction. It
// reports whether the schema was migrated by this call.
func (r *PostgresChallengeRepository) Migrate(ctx context.Context) (bool, error) {
	version, dirty, err := r.Version(ctx)
	if err != nil {
		return false, err
	}
	if dirty {
		return false, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	if version >= SchemaVersion {
		return false, nil
	}

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, r.Schema()); err != nil {
			return fmt.Errorf("create captcha table: %w", err)
		}
		return setVersion(ctx, tx, r.MigrationsTable(), SchemaVersion)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Rollback drops the challenge table and clears the recorded version.
func (r *PostgresChallengeRepository) Rollback(ctx context.Context) error {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, r.DropSchema()); err != nil {
			return fmt.Errorf("drop captcha table: %w", err)
		}
		return setVersion(ctx, tx, r.MigrationsTable(), 0)
	})
}

// setVersion replaces the version row. Version 0 leaves the table empty,
// as golang-migrate does after a full rollback.
func setVersion(ctx context.Context, tx pgx.Tx, table string, version int64) error {
	if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear schema version: %w", err)
	}
	if version == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (version, dirty) VALUES ($1, false)", table), version,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}
