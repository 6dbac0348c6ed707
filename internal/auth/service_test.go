package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"quizdesk/internal/db"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn, err := db.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewService(conn, ServiceConfig{
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
		BcryptCost:     bcrypt.MinCost,
		BootstrapToken: "boot",
	})
}

func TestBootstrapOnlyOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Bootstrap(ctx, BootstrapInput{Token: "wrong", Email: "a@example.com", Password: "password1"}); !errors.Is(err, ErrBootstrapDenied) {
		t.Fatalf("expected ErrBootstrapDenied, got %v", err)
	}
	owner, err := svc.Bootstrap(ctx, BootstrapInput{Token: "boot", Email: " A@Example.com ", Password: "password1", Name: "Ada"})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if owner.Email != "a@example.com" || owner.ID == "" {
		t.Fatalf("unexpected owner: %+v", owner)
	}
	if _, err := svc.Bootstrap(ctx, BootstrapInput{Token: "boot", Email: "b@example.com", Password: "password1"}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{name: "bad email", in: RegisterInput{Email: "nope", Password: "password1"}, want: ErrInvalidInput},
		{name: "short password", in: RegisterInput{Email: "x@example.com", Password: "short"}, want: ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := svc.Register(ctx, RegisterInput{Email: "x@example.com", Password: "password1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "X@example.com", Password: "password1"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginIssuesParsableToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	created, err := svc.Register(ctx, RegisterInput{Email: "t@example.com", Password: "password1", Name: "Teacher"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, _, err := svc.Login(ctx, "t@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "nobody@example.com", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	owner, token, _, err := svc.Login(ctx, "T@example.com", "password1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if owner.ID != created.ID {
		t.Fatalf("login returned a different owner")
	}

	parsed, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if parsed.ID != created.ID || parsed.Email != "t@example.com" || parsed.Name != "Teacher" {
		t.Fatalf("unexpected claims owner: %+v", parsed)
	}

	got, err := svc.GetOwner(ctx, created.ID)
	if err != nil || got.Email != "t@example.com" {
		t.Fatalf("get owner: %+v %v", got, err)
	}
	if _, err := svc.GetOwner(ctx, "missing"); !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestParseTokenRejectsExpiredAndForeign(t *testing.T) {
	svc := newTestService(t)
	token, _, err := svc.IssueToken(&Owner{ID: "o1", Email: "o@example.com"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewService(nil, ServiceConfig{JWTSecret: "other"})
	if _, err := other.ParseToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected foreign secret to be rejected, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ParseToken(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
	if _, err := svc.ParseToken(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected empty token to be rejected, got %v", err)
	}
}
