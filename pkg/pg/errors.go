package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrConnectionFailed = errors.New("pg: failed to open connection")
	ErrParseConfig      = errors.New("pg: failed to parse connection config")
	ErrHealthcheck      = errors.New("pg: healthcheck failed")
	ErrMigrationsFailed = errors.New("pg: failed to apply migrations")
	ErrMigrationsPath   = errors.New("pg: migrations path not found")
)

// IsNotFound reports whether err is pgx.ErrNoRows.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation detects unique constraint violations (SQLSTATE 23505).
// The subscription store relies on this to classify writes refused by the
// one-active-per-user index.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
