package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// classify
// ---------------------------------------------------------------------------

func TestClassify_PgErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"insufficient privilege", "42501", ErrPolicyDenied},
		{"unique violation", "23505", ErrConstraint},
		{"foreign key violation", "23503", ErrConstraint},
		{"not null violation", "23502", ErrConstraint},
		{"check violation", "23514", ErrConstraint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(&pgconn.PgError{Code: tt.code, Message: tt.name})
			if !errors.Is(err, tt.want) {
				t.Errorf("code %s: expected %v, got %v", tt.code, tt.want, err)
			}
		})
	}
}

func TestClassify_MessageFallbacks(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{`new row violates row-level security policy for table "posts"`, ErrPolicyDenied},
		{`permission denied for table messages`, ErrPolicyDenied},
		{`duplicate key value violates unique constraint "profiles_username_key"`, ErrConstraint},
		{`null value in column "content" violates not-null constraint`, ErrConstraint},
		{`insert or update on table "follows" violates foreign key constraint`, ErrConstraint},
	}

	for _, tt := range tests {
		err := classify(errors.New(tt.msg))
		if !errors.Is(err, tt.want) {
			t.Errorf("%q: expected %v, got %v", tt.msg, tt.want, err)
		}
	}
}

func TestClassify_NoRowsIsNotFound(t *testing.T) {
	err := classify(fmt.Errorf("query profile: %w", pgx.ErrNoRows))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClassify_PassesThroughUnknownErrors(t *testing.T) {
	orig := errors.New("dial tcp 127.0.0.1:5432: connection refused")
	err := classify(orig)
	if err != orig {
		t.Errorf("unknown errors must pass through unchanged, got %v", err)
	}
	if classify(nil) != nil {
		t.Error("nil must stay nil")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("expected 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(nil) {
		t.Error("nil is not a unique violation")
	}
}

// ---------------------------------------------------------------------------
// sessions
// ---------------------------------------------------------------------------

func TestAnonSession(t *testing.T) {
	sess := Anon()
	if sess.Role != "anon" {
		t.Errorf("expected anon role, got %q", sess.Role)
	}
	if sess.UserID() != "" {
		t.Errorf("anonymous session must have no user id, got %q", sess.UserID())
	}
}

func TestSessionUserID(t *testing.T) {
	sess := Session{Role: "authenticated", Claims: map[string]interface{}{"sub": "abc-123"}}
	if sess.UserID() != "abc-123" {
		t.Errorf("expected sub claim, got %q", sess.UserID())
	}
}
