package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads users from the account service's users table.
//
// Ownership model:
// - PostgresDirectory does NOT own the pgx pool. The caller must close the pool.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// DirectoryOption configures PostgresDirectory behavior.
type DirectoryOption func(*PostgresDirectory) error

// WithDirectorySchema sets the DB schema used by the directory (default: "microhire").
func WithDirectorySchema(schema string) DirectoryOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a Postgres-backed Directory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...DirectoryOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "microhire",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return d, nil
}

// Lookup returns the identity for id, honoring the is_active flag.
func (d *PostgresDirectory) Lookup(ctx context.Context, id int64) (Identity, error) {
	if id <= 0 {
		return Identity{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	users := pgx.Identifier{d.schema, "users"}.Sanitize()

	var (
		ident  Identity
		active bool
	)
	err := d.pool.QueryRow(ctx,
		`SELECT id, full_name, role, is_active FROM `+users+` WHERE id = $1`,
		id,
	).Scan(&ident.ID, &ident.Name, &ident.Role, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	if !active {
		return Identity{}, ErrInactive
	}
	return ident, nil
}
