package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/captcha/internal/captcha/model"
)

// DefaultTable is the table used when no name is configured.
const DefaultTable = "captchas"

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// splitTableName accepts "table" or "schema.table" and lowercases it.
func splitTableName(name string) (schema, table string, err error) {
	name = strings.ToLower(strings.TrimSpace(name))
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		table = parts[0]
	case 2:
		schema, table = parts[0], parts[1]
		if !identRe.MatchString(schema) {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
		}
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	if !identRe.MatchString(table) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return schema, table, nil
}

// PostgresChallengeRepository persists challenges in PostgreSQL.
type PostgresChallengeRepository struct {
	db     *pgxpool.Pool
	schema string
	table  string
	ident  string // sanitized, possibly schema-qualified
}

// NewPostgresChallengeRepository creates a repository over the given table,
// written as "table" or "schema.table". An empty name selects DefaultTable.
func NewPostgresChallengeRepository(db *pgxpool.Pool, tableName string) (*PostgresChallengeRepository, error) {
	if tableName == "" {
		tableName = DefaultTable
	}
	schema, table, err := splitTableName(tableName)
	if err != nil {
		return nil, err
	}
	ident := pgx.Identifier{table}
	if schema != "" {
		ident = pgx.Identifier{schema, table}
	}
	return &PostgresChallengeRepository{
		db:     db,
		schema: schema,
		table:  table,
		ident:  ident.Sanitize(),
	}, nil
}

// Schema returns the DDL that creates the challenge table.
func (r *PostgresChallengeRepository) Schema() string {
	idx := pgx.Identifier{r.table + "_expires_at_idx"}.Sanitize()
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         CHAR(32)     NOT NULL PRIMARY KEY,
	image_ref  VARCHAR(100) NOT NULL,
	code       VARCHAR(10)  NOT NULL,
	expires_at TIMESTAMPTZ  NOT NULL,
	created_at TIMESTAMPTZ  NOT NULL
);
CREATE INDEX IF NOT EXISTS %s ON %s (expires_at);`, r.ident, idx, r.ident)
}

// EnsureSchema brings the table up to SchemaVersion and records the
// version in schema_migrations. It reports whether anything was applied.
func (r *PostgresChallengeRepository) EnsureSchema(ctx context.Context) (bool, error) {
	return r.Migrate(ctx)
}

// Ping verifies the database connection.
func (r *PostgresChallengeRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Insert stores a new challenge. It fails with ErrDuplicateID when the id
// is already present.
func (r *PostgresChallengeRepository) Insert(ctx context.Context, ch *model.Challenge) error {
	id, err := checkInsertID(ch.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO `+r.ident+` (id, image_ref, code, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, ch.ImageRef, ch.Code, ch.ExpiresAt.UTC(), ch.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert captcha: %w", err)
	}
	return nil
}

// GetByID returns the challenge with the given id, ignoring case.
func (r *PostgresChallengeRepository) GetByID(ctx context.Context, id string) (*model.Challenge, error) {
	ch := &model.Challenge{}
	err := r.db.QueryRow(ctx,
		`SELECT id, image_ref, code, expires_at, created_at
		 FROM `+r.ident+` WHERE id = $1`, normalizeID(id),
	).Scan(&ch.ID, &ch.ImageRef, &ch.Code, &ch.ExpiresAt, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get captcha: %w", err)
	}
	return ch, nil
}

// ListExpired returns every challenge whose expires_at is at or before now.
func (r *PostgresChallengeRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.Challenge, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, image_ref, code, expires_at, created_at
		 FROM `+r.ident+` WHERE expires_at <= $1
		 ORDER BY expires_at`, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired captchas: %w", err)
	}
	defer rows.Close()

	var out []*model.Challenge
	for rows.Next() {
		ch := &model.Challenge{}
		if err := rows.Scan(&ch.ID, &ch.ImageRef, &ch.Code, &ch.ExpiresAt, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan captcha: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired captchas: %w", err)
	}
	return out, nil
}

// DeleteByID removes a challenge. Deleting a missing id is not an error.
func (r *PostgresChallengeRepository) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM `+r.ident+` WHERE id = $1`, normalizeID(id)); err != nil {
		return fmt.Errorf("delete captcha: %w", err)
	}
	return nil
}

// DeleteExpired removes every challenge whose expires_at is at or before
// now in a single statement and returns the number of rows deleted.
func (r *PostgresChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM `+r.ident+` WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired captchas: %w", err)
	}
	return tag.RowsAffected(), nil
}
