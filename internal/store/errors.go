package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors classifying database failures. Handlers map these to
// HTTP statuses; the raw PostgreSQL message is never exposed to clients.
var (
	// ErrPolicyDenied is a row-level-security rejection. Deliberately
	// indistinguishable from "row does not exist" for reads.
	ErrPolicyDenied = errors.New("permission denied for this resource")

	// ErrConstraint is a unique, foreign-key, not-null or check violation.
	ErrConstraint = errors.New("constraint violation")

	// ErrNotFound is returned when a query matches no rows.
	ErrNotFound = errors.New("requested resource does not exist")
)

// classify maps a pgx error to one of the store sentinels, keeping a safe
// description. Unknown errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501":
			return ErrPolicyDenied
		case strings.HasPrefix(pgErr.Code, "23"):
			return ErrConstraint
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "violates row-level security"),
		strings.Contains(msg, "permission denied"):
		return ErrPolicyDenied
	case strings.Contains(msg, "violates unique constraint"),
		strings.Contains(msg, "violates not-null constraint"),
		strings.Contains(msg, "violates foreign key constraint"),
		strings.Contains(msg, "violates check constraint"):
		return ErrConstraint
	}
	return err
}

// IsUniqueViolation reports whether the error is a duplicate-key failure,
// used where callers distinguish "taken" from other constraint errors.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "violates unique constraint")
}
