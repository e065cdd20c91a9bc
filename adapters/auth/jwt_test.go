package auth_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/amber7117/server-api/adapters/auth"
	"github.com/amber7117/server-api/adapters/clock"
	"github.com/amber7117/server-api/domain/access"
	"github.com/amber7117/server-api/pkg/apierr"
)

type fakePermissions struct {
	calls int
	perms map[string][]string
	err   error
}

func (f *fakePermissions) Permissions(_ context.Context, role string) ([]string, error) {
	f.calls++
	return f.perms[role], f.err
}

func authCode(err error) string {
	var ae *apierr.AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func TestNewJWT_EmptySecret(t *testing.T) {
	svc := auth.NewJWT("", "server-api", time.Hour)

	token, _, err := svc.GenerateToken(access.Actor{ID: "user1", Role: "admin"})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if len(strings.Split(token, ".")) != 3 {
		t.Errorf("expected JWT format with 3 parts, got %q", token)
	}
}

func TestJWT_DefaultExpiration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := auth.NewJWT("secret", "", 0, auth.WithClock(clock.NewFake(now)))

	_, expiresAt, err := svc.GenerateToken(access.Actor{ID: "user1"})
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if !expiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("expiresAt = %v, want 24h after %v", expiresAt, now)
	}
}

func TestJWT_ValidateToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	svc := auth.NewJWT("test-secret", "server-api", time.Hour, auth.WithClock(clk))
	token, _, _ := svc.GenerateToken(access.Actor{ID: "u1", Email: "u@example.com", Role: "user"})

	otherSecret, _, _ := auth.NewJWT("other", "server-api", time.Hour, auth.WithClock(clk)).
		GenerateToken(access.Actor{ID: "u1"})
	otherIssuer, _, _ := auth.NewJWT("test-secret", "someone-else", time.Hour, auth.WithClock(clk)).
		GenerateToken(access.Actor{ID: "u1"})

	tests := []struct {
		name     string
		token    string
		advance  time.Duration
		wantCode string
	}{
		{"valid", token, 0, ""},
		{"garbage", "invalid-token", 0, auth.CodeInvalidToken},
		{"wrong secret", otherSecret, 0, auth.CodeInvalidToken},
		{"wrong issuer", otherIssuer, 0, auth.CodeInvalidToken},
		{"expired", token, 2 * time.Hour, auth.CodeTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk.Set(now.Add(tt.advance))
			claims, err := svc.ValidateToken(tt.token)
			if got := authCode(err); got != tt.wantCode {
				t.Fatalf("ValidateToken() code = %q (err %v), want %q", got, err, tt.wantCode)
			}
			if tt.wantCode == "" && (claims.UserID != "u1" || claims.Email != "u@example.com" || claims.Subject != "u1") {
				t.Errorf("claims = %+v", claims)
			}
		})
	}
}

func TestJWT_AuthErrorsNormalize(t *testing.T) {
	svc := auth.NewJWT("test-secret", "", time.Hour)
	_, err := svc.Authenticate(context.Background(), "nope")
	if got := apierr.Normalize(err).Status; got != 401 {
		t.Errorf("normalized status = %d, want 401", got)
	}
}

func TestJWT_Authenticate(t *testing.T) {
	ctx := context.Background()
	src := &fakePermissions{perms: map[string][]string{"editor": {"FAQ_UPDATE"}}}
	svc := auth.NewJWT("test-secret", "", time.Hour, auth.WithPermissions(src))

	withPerms, _, _ := svc.GenerateToken(access.Actor{ID: "u1", Role: "editor", Permissions: []string{"FAQ_READ"}})
	actor, err := svc.Authenticate(ctx, withPerms)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !slices.Equal(actor.Permissions, []string{"FAQ_READ"}) || src.calls != 0 {
		t.Errorf("token permissions should win, got %v after %d lookups", actor.Permissions, src.calls)
	}

	roleOnly, _, _ := svc.GenerateToken(access.Actor{ID: "u2", Role: "editor"})
	actor, err = svc.Authenticate(ctx, roleOnly)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if actor.ID != "u2" || !slices.Equal(actor.Permissions, []string{"FAQ_UPDATE"}) {
		t.Errorf("actor = %+v", actor)
	}

	src.err = errors.New("roles offline")
	if _, err := svc.Authenticate(ctx, roleOnly); err == nil {
		t.Error("expected permission lookup error")
	}
}

func TestGenerateSecret(t *testing.T) {
	secret1 := auth.GenerateSecret()
	secret2 := auth.GenerateSecret()

	if len(secret1) != 64 {
		t.Errorf("expected 64 char hex string, got %d chars", len(secret1))
	}
	if secret1 == secret2 {
		t.Error("secrets should be different")
	}
}
