// Package auth authenticates staff with bcrypt credentials and opaque,
// store-backed sessions.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"golang.org/x/crypto/bcrypt"
)

const DefaultSessionTTL = 12 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordMismatch   = errors.New("new password and confirmation differ")
	ErrPasswordRequired   = errors.New("password is required")
	ErrSessionNotFound    = store.ErrSessionNotFound
)

type Options struct {
	SessionTTL time.Duration
	BcryptCost int
	Now        func() time.Time
}

type Service struct {
	store store.StaffStore
	ttl   time.Duration
	cost  int
	now   func() time.Time
}

func NewService(st store.StaffStore, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: st, ttl: opts.SessionTTL, cost: opts.BcryptCost, now: opts.Now}
}

func (s *Service) Login(ctx context.Context, name, password string) (models.Session, models.Staff, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return models.Session{}, models.Staff{}, ErrInvalidCredentials
	}
	member, err := s.store.GetStaffByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrStaffNotFound) {
			return models.Session{}, models.Staff{}, ErrInvalidCredentials
		}
		return models.Session{}, models.Staff{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(password)); err != nil {
		return models.Session{}, models.Staff{}, ErrInvalidCredentials
	}

	session, err := s.store.CreateSession(ctx, member.StaffID, s.now().UTC().Add(s.ttl))
	if err != nil {
		return models.Session{}, models.Staff{}, err
	}
	return session, member, nil
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// Resolve returns the staff member behind a live session. Expired sessions
// are removed on sight.
func (s *Service) Resolve(ctx context.Context, sessionID string) (models.Staff, error) {
	if sessionID == "" {
		return models.Staff{}, ErrSessionNotFound
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return models.Staff{}, err
	}
	if !s.now().Before(session.ExpiresAt) {
		_ = s.store.DeleteSession(ctx, sessionID)
		return models.Staff{}, ErrSessionNotFound
	}
	member, err := s.store.GetStaff(ctx, session.StaffID)
	if err != nil {
		if errors.Is(err, store.ErrStaffNotFound) {
			return models.Staff{}, ErrSessionNotFound
		}
		return models.Staff{}, err
	}
	return member, nil
}

func (s *Service) ChangePassword(ctx context.Context, member models.Staff, current, next, confirm string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if next == "" {
		return ErrPasswordRequired
	}
	if next != confirm {
		return ErrPasswordMismatch
	}
	hash, err := s.HashPassword(next)
	if err != nil {
		return err
	}
	member.PasswordHash = hash
	_, err = s.store.UpdateStaff(ctx, member)
	return err
}

func (s *Service) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrPasswordRequired
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
