package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JWTClaims carries the token claims a session was authenticated with.
// The policy layer only reads sub, role and email; other claims are
// carried but never reach the database.
type JWTClaims map[string]interface{}

// Roles the policy set is written against. service_role bypasses RLS.
const (
	RoleAnon          = "anon"
	RoleAuthenticated = "authenticated"
	RoleService       = "service_role"
)

// validRoleName guards the SET LOCAL ROLE statement, which cannot take
// a bind parameter.
var validRoleName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ExecuteWithRLS runs fn inside a transaction whose role and JWT claim
// GUCs are set for the policy layer. RoleService keeps the pool's
// owning role, so no policy applies to it.
func ExecuteWithRLS[T any](
	ctx context.Context,
	pool *pgxpool.Pool,
	role string,
	claims JWTClaims,
	fn func(tx pgx.Tx) (T, error),
) (T, error) {
	var zero T

	if role != RoleService && !validRoleName.MatchString(role) {
		return zero, fmt.Errorf("invalid role name: %s", role)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if role != RoleService {
		// The role name cannot be parameterized; validated above.
		if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL ROLE "%s"`, role)); err != nil {
			return zero, fmt.Errorf("set role %s: %w", role, err)
		}
		if err := applyClaimGUCs(ctx, tx, claims); err != nil {
			return zero, fmt.Errorf("set jwt claims: %w", err)
		}
	}

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// applyClaimGUCs sets the transaction-local GUCs auth.uid() and
// auth.role() read. Absent claims become empty strings, which the
// NULLIF in those functions folds to NULL.
func applyClaimGUCs(ctx context.Context, tx pgx.Tx, claims JWTClaims) error {
	_, err := tx.Exec(ctx, `
		SELECT set_config('request.jwt.claim.sub', $1, true),
		       set_config('request.jwt.claim.role', $2, true),
		       set_config('request.jwt.claim.email', $3, true)
	`, claimString(claims, "sub"), claimString(claims, "role"), claimString(claims, "email"))
	return err
}

// claimString extracts a string claim, treating missing and non-string
// values alike.
func claimString(claims JWTClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
