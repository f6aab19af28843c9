// Package store is the data-access facade. Every query runs inside an
// ExecuteWithRLS transaction carrying the caller's role and JWT claims,
// so authorization lives in the database policy set, not in Go code.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooperblacks/liaotian/internal/database"
)

// Session identifies the caller for row-level security: the database
// role to assume and the JWT claims the policies read via auth.uid().
type Session struct {
	Role   string
	Claims database.JWTClaims
}

// Anon is the unauthenticated session: public reads only.
func Anon() Session {
	return Session{Role: database.RoleAnon, Claims: database.JWTClaims{}}
}

// UserID returns the sub claim, empty for anonymous sessions.
func (s Session) UserID() string {
	sub, _ := s.Claims["sub"].(string)
	return sub
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
