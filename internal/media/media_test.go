package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

// ---------------------------------------------------------------------------
// key normalization
// ---------------------------------------------------------------------------

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user-1/avatar.png", "user-1/avatar.png"},
		{"/user-1/avatar.png", "user-1/avatar.png"},
		{"user-1//posts//1.png", "user-1/posts/1.png"},
		{"user-1/./avatar.png", "user-1/avatar.png"},
		{"../etc/passwd", ""},
		{"user-1/../user-2/avatar.png", "user-2/avatar.png"},
		{"", ""},
		{".", ""},
	}

	for _, tt := range tests {
		if got := cleanKey(tt.in); got != tt.want {
			t.Errorf("cleanKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user-1/avatar.png", "user-1"},
		{"user-1/posts/1.png", "user-1"},
		{"bare-key", "bare-key"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := firstSegment(tt.in); got != tt.want {
			t.Errorf("firstSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// delete ownership
// ---------------------------------------------------------------------------

func TestDelete_RejectsForeignPrefix(t *testing.T) {
	// Ownership is checked before the client is touched, so a bare
	// Store is enough for the rejection paths.
	s := &Store{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	cases := []string{
		"user-2/avatar.png",              // someone else's prefix
		"user-2",                         // bare foreign key
		"../user-1/avatar.png",           // traversal resolves to empty
		"user-2/../user-3/x.png",         // traversal into a third prefix
	}
	for _, key := range cases {
		err := s.Delete(context.Background(), "user-1", key)
		if !errors.Is(err, ErrForbiddenKey) {
			t.Errorf("Delete(%q) should be forbidden, got %v", key, err)
		}
	}
}

// ---------------------------------------------------------------------------
// URLs
// ---------------------------------------------------------------------------

func TestPublicURL(t *testing.T) {
	s := &Store{publicURL: "https://cdn.example.com/media"}
	got := s.PublicURL("user-1/avatar.png")
	want := "https://cdn.example.com/media/user-1/avatar.png"
	if got != want {
		t.Errorf("PublicURL = %q, want %q", got, want)
	}
}
