package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store/memstore"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, now *time.Time) (*Service, *memstore.Store, models.Staff) {
	t.Helper()
	st := memstore.New()
	svc := NewService(st, Options{BcryptCost: bcrypt.MinCost, Now: func() time.Time { return *now }})
	hash, err := svc.HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	member, err := st.CreateStaff(context.Background(), models.Staff{Name: "ana", PasswordHash: hash, Role: models.RoleRegistrar})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	return svc, st, member
}

func TestLoginAndResolve(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, _, member := newTestService(t, &now)
	ctx := context.Background()

	if _, _, err := svc.Login(ctx, "ana", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	session, got, err := svc.Login(ctx, " ana ", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.StaffID != member.StaffID {
		t.Fatalf("unexpected staff %+v", got)
	}
	if !session.ExpiresAt.Equal(now.Add(12 * time.Hour)) {
		t.Fatalf("expected 12h session, got %v", session.ExpiresAt)
	}

	resolved, err := svc.Resolve(ctx, session.SessionID)
	if err != nil || resolved.StaffID != member.StaffID {
		t.Fatalf("resolve: staff=%+v err=%v", resolved, err)
	}

	now = now.Add(13 * time.Hour)
	if _, err := svc.Resolve(ctx, session.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	now := time.Now()
	svc, _, _ := newTestService(t, &now)
	ctx := context.Background()

	session, _, err := svc.Login(ctx, "ana", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(ctx, session.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Resolve(ctx, session.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	now := time.Now()
	svc, st, member := newTestService(t, &now)
	ctx := context.Background()

	tests := []struct {
		name    string
		current string
		next    string
		confirm string
		want    error
	}{
		{"wrong current", "nope", "new", "new", ErrInvalidCredentials},
		{"mismatch", "secret", "new", "other", ErrPasswordMismatch},
		{"empty", "secret", "", "", ErrPasswordRequired},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.ChangePassword(ctx, member, tc.current, tc.next, tc.confirm); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if err := svc.ChangePassword(ctx, member, "secret", "fresh", "fresh"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	updated, _ := st.GetStaff(ctx, member.StaffID)
	if err := bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("fresh")); err != nil {
		t.Fatalf("password not updated")
	}
	if _, _, err := svc.Login(ctx, "ana", "fresh"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}
