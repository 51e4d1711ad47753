package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/jobhub"
)

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// wrapErr maps driver errors onto the store contract: a missing row is
// ErrJobNotFound, a primary key clash is ErrJobAlreadyExists, anything
// else is wrapped with op.
func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return jobhub.ErrJobNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return jobhub.ErrJobAlreadyExists
	}
	return fmt.Errorf("jobhub/postgres: %s: %w", op, err)
}
