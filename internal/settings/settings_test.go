package settings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/cooperblacks/liaotian/internal/database"
	"github.com/cooperblacks/liaotian/internal/store"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeProfiles struct {
	profiles    map[string]*store.Profile
	themeErr    error
	usernameErr error
	verifyErr   error

	themeWrites []string
}

func (f *fakeProfiles) GetProfile(_ context.Context, _ store.Session, id string) (*store.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) UpdateTheme(_ context.Context, _ store.Session, id, theme string) error {
	if f.themeErr != nil {
		return f.themeErr
	}
	f.themeWrites = append(f.themeWrites, theme)
	if p, ok := f.profiles[id]; ok {
		p.Theme = theme
	}
	return nil
}

func (f *fakeProfiles) UpdateUsername(_ context.Context, _ store.Session, id, username string) (*store.Profile, error) {
	if f.usernameErr != nil {
		return nil, f.usernameErr
	}
	p := f.profiles[id]
	p.Username = username
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) RequestVerification(_ context.Context, _ store.Session, id, request string) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	p := f.profiles[id]
	// Mirrors the guarded UPDATE: verified profiles are untouched.
	if !p.Verified {
		req := request
		p.VerificationRequest = &req
	}
	return nil
}

type fakeIdentity struct {
	emailStatus    int
	emailErr       error
	passwordStatus int
	passwordErr    error

	gotEmail    string
	gotPassword string
}

func (f *fakeIdentity) UpdateEmail(_ context.Context, _, newEmail string) (int, error) {
	f.gotEmail = newEmail
	return f.emailStatus, f.emailErr
}

func (f *fakeIdentity) UpdatePassword(_ context.Context, _, newPassword string) (int, error) {
	f.gotPassword = newPassword
	return f.passwordStatus, f.passwordErr
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*store.Profile
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*store.Profile)}
}

func (c *fakeCache) Get(_ context.Context, id string) (*store.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (c *fakeCache) Set(_ context.Context, p *store.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	c.entries[p.ID] = &cp
}

func (c *fakeCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

const testUserID = "11111111-2222-3333-4444-555555555555"

func testSession() store.Session {
	return store.Session{
		Role:   database.RoleAuthenticated,
		Claims: database.JWTClaims{"sub": testUserID},
	}
}

func testProfile() *store.Profile {
	return &store.Profile{ID: testUserID, Username: "alice", Theme: "dark"}
}

func newTestService(profiles *fakeProfiles, identity *fakeIdentity, c *fakeCache) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(profiles, identity, c, logger)
}

// ---------------------------------------------------------------------------
// theme: write first, patch cache on success
// ---------------------------------------------------------------------------

func TestUpdateTheme_SuccessPatchesCache(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*store.Profile{testUserID: testProfile()}}
	c := newFakeCache()
	c.Set(context.Background(), testProfile())
	svc := newTestService(profiles, &fakeIdentity{}, c)

	status, err := svc.UpdateTheme(context.Background(), testSession(), "light")
	if err != nil {
		t.Fatalf("UpdateTheme: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if len(profiles.themeWrites) != 1 || profiles.themeWrites[0] != "light" {
		t.Errorf("theme must be persisted, writes: %v", profiles.themeWrites)
	}

	cached, ok := c.Get(context.Background(), testUserID)
	if !ok {
		t.Fatal("profile missing from cache")
	}
	if cached.Theme != "light" {
		t.Errorf("cache should hold the new theme, got %q", cached.Theme)
	}
}

func TestUpdateTheme_WriteFailureIsTerminal(t *testing.T) {
	profiles := &fakeProfiles{
		profiles: map[string]*store.Profile{testUserID: testProfile()},
		themeErr: fmt.Errorf("connection reset"),
	}
	c := newFakeCache()
	c.Set(context.Background(), testProfile())
	svc := newTestService(profiles, &fakeIdentity{}, c)

	status, err := svc.UpdateTheme(context.Background(), testSession(), "light")
	if err == nil {
		t.Fatal("failed theme write must surface to the caller")
	}
	if status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", status)
	}

	// The cache is only patched after a successful write.
	cached, ok := c.Get(context.Background(), testUserID)
	if !ok {
		t.Fatal("profile missing from cache")
	}
	if cached.Theme != "dark" {
		t.Errorf("cache must keep the stored theme, got %q", cached.Theme)
	}
}

func TestUpdateTheme_PolicyDeniedMapsTo403(t *testing.T) {
	profiles := &fakeProfiles{
		profiles: map[string]*store.Profile{testUserID: testProfile()},
		themeErr: store.ErrPolicyDenied,
	}
	svc := newTestService(profiles, &fakeIdentity{}, newFakeCache())

	status, err := svc.UpdateTheme(context.Background(), testSession(), "light")
	if err == nil {
		t.Fatal("expected policy error to surface")
	}
	if status != http.StatusForbidden {
		t.Errorf("expected 403, got %d", status)
	}
}

func TestUpdateTheme_RejectsUnknownTheme(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*store.Profile{testUserID: testProfile()}}
	svc := newTestService(profiles, &fakeIdentity{}, newFakeCache())

	status, err := svc.UpdateTheme(context.Background(), testSession(), "neon")
	if err == nil {
		t.Fatal("expected error for unknown theme")
	}
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if len(profiles.themeWrites) != 0 {
		t.Error("invalid theme must not reach the store")
	}
}

// ---------------------------------------------------------------------------
// username
// ---------------------------------------------------------------------------

func TestUpdateUsername_ConflictMapsTo409(t *testing.T) {
	profiles := &fakeProfiles{
		profiles:    map[string]*store.Profile{testUserID: testProfile()},
		usernameErr: fmt.Errorf("username already taken: %w", store.ErrConstraint),
	}
	svc := newTestService(profiles, &fakeIdentity{}, newFakeCache())

	_, status, err := svc.UpdateUsername(context.Background(), testSession(), "bob")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if status != http.StatusConflict {
		t.Errorf("expected 409, got %d", status)
	}
}

func TestUpdateUsername_SuccessRefreshesCache(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*store.Profile{testUserID: testProfile()}}
	c := newFakeCache()
	svc := newTestService(profiles, &fakeIdentity{}, c)

	p, status, err := svc.UpdateUsername(context.Background(), testSession(), "bob")
	if err != nil {
		t.Fatalf("UpdateUsername: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if p.Username != "bob" {
		t.Errorf("expected returned profile with new username, got %q", p.Username)
	}

	cached, ok := c.Get(context.Background(), testUserID)
	if !ok || cached.Username != "bob" {
		t.Error("cache must hold the renamed profile")
	}
}

// ---------------------------------------------------------------------------
// email / password delegation
// ---------------------------------------------------------------------------

func TestUpdateEmail_DelegatesVerbatim(t *testing.T) {
	identity := &fakeIdentity{emailStatus: http.StatusOK}
	svc := newTestService(&fakeProfiles{profiles: map[string]*store.Profile{}}, identity, newFakeCache())

	status, err := svc.UpdateEmail(context.Background(), testSession(), "New@Example.COM")
	if err != nil {
		t.Fatalf("UpdateEmail: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	// No normalization here -- the identity service owns email rules.
	if identity.gotEmail != "New@Example.COM" {
		t.Errorf("email must be passed through unchanged, got %q", identity.gotEmail)
	}
}

func TestUpdatePassword_WrapsIdentityFailures(t *testing.T) {
	identity := &fakeIdentity{
		passwordStatus: http.StatusInternalServerError,
		passwordErr:    fmt.Errorf("upstream timeout"),
	}
	svc := newTestService(&fakeProfiles{profiles: map[string]*store.Profile{}}, identity, newFakeCache())

	status, err := svc.UpdatePassword(context.Background(), testSession(), "newpassword")
	if err == nil {
		t.Fatal("expected wrapped identity error")
	}
	if !errors.Is(err, ErrIdentityService) {
		t.Errorf("error must be classified as identity service failure: %v", err)
	}
	if status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", status)
	}
}

// ---------------------------------------------------------------------------
// verification: confirm-read
// ---------------------------------------------------------------------------

func TestRequestVerification_CacheReflectsDatabaseState(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*store.Profile{testUserID: testProfile()}}
	c := newFakeCache()
	svc := newTestService(profiles, &fakeIdentity{}, c)

	p, status, err := svc.RequestVerification(context.Background(), testSession(), "I am a public figure")
	if err != nil {
		t.Fatalf("RequestVerification: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if p.VerificationRequest == nil || *p.VerificationRequest != "I am a public figure" {
		t.Error("returned profile must carry the stored request")
	}

	cached, ok := c.Get(context.Background(), testUserID)
	if !ok || cached.VerificationRequest == nil {
		t.Fatal("cache must be refreshed from the re-read")
	}
}

func TestRequestVerification_AlreadyVerifiedIsNoOp(t *testing.T) {
	verified := testProfile()
	verified.Verified = true
	profiles := &fakeProfiles{profiles: map[string]*store.Profile{testUserID: verified}}
	c := newFakeCache()
	svc := newTestService(profiles, &fakeIdentity{}, c)

	p, _, err := svc.RequestVerification(context.Background(), testSession(), "please")
	if err != nil {
		t.Fatalf("RequestVerification: %v", err)
	}
	// The guarded write did nothing; the confirm-read makes the cache
	// honest about that.
	if p.VerificationRequest != nil {
		t.Error("verified profile must not gain a pending request")
	}
	cached, _ := c.Get(context.Background(), testUserID)
	if cached.VerificationRequest != nil {
		t.Error("cache must match the untouched database row")
	}
}
