// Package admin manages services, staff accounts and the system open switch.
package admin

import (
	"context"
	"errors"
	"strings"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrSelfDelete   = errors.New("cannot delete own account")
)

type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

type Store interface {
	store.ServiceStore
	store.StaffStore
	store.SettingsStore
}

type Service struct {
	store  Store
	hasher PasswordHasher
}

type ServiceInput struct {
	Name   string `json:"name" validate:"required,max=100"`
	Prefix string `json:"prefix" validate:"required,alpha,min=1,max=3"`
	Color  string `json:"color" validate:"required,hexcolor"`
}

type StaffInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Password    string `json:"password" validate:"omitempty,min=4"`
	Role        string `json:"role" validate:"required,oneof=staff registrar admin"`
	ServiceName string `json:"service_name"`
	DeskNumber  *int   `json:"desk_number" validate:"omitempty,min=1"`
}

func NewService(st Store, hasher PasswordHasher) *Service {
	return &Service{store: st, hasher: hasher}
}

func (s *Service) ListServices(ctx context.Context) ([]models.Service, error) {
	return s.store.ListServices(ctx)
}

func (s *Service) CreateService(ctx context.Context, input ServiceInput) (models.Service, error) {
	input = normalizeService(input)
	if err := validateStruct(input); err != nil {
		return models.Service{}, err
	}
	return s.store.CreateService(ctx, models.Service{Name: input.Name, Prefix: input.Prefix, Color: input.Color})
}

func (s *Service) UpdateService(ctx context.Context, serviceID string, input ServiceInput) (models.Service, error) {
	input = normalizeService(input)
	if err := validateStruct(input); err != nil {
		return models.Service{}, err
	}
	return s.store.UpdateService(ctx, models.Service{ServiceID: serviceID, Name: input.Name, Prefix: input.Prefix, Color: input.Color})
}

// DeleteService refuses while any ticket still references the service.
func (s *Service) DeleteService(ctx context.Context, serviceID string) error {
	return s.store.DeleteService(ctx, serviceID)
}

func (s *Service) ListStaff(ctx context.Context) ([]models.Staff, error) {
	return s.store.ListStaff(ctx)
}

func (s *Service) CreateStaff(ctx context.Context, input StaffInput) (models.Staff, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateStruct(input); err != nil {
		return models.Staff{}, err
	}
	if input.Password == "" {
		return models.Staff{}, errors.Join(ErrInvalidInput, errors.New("password is required"))
	}
	member, err := s.applyAssignment(ctx, models.Staff{Name: input.Name, Role: input.Role}, input)
	if err != nil {
		return models.Staff{}, err
	}
	hash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return models.Staff{}, err
	}
	member.PasswordHash = hash
	return s.store.CreateStaff(ctx, member)
}

// UpdateStaff keeps the current password when input.Password is empty.
func (s *Service) UpdateStaff(ctx context.Context, staffID string, input StaffInput) (models.Staff, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateStruct(input); err != nil {
		return models.Staff{}, err
	}
	existing, err := s.store.GetStaff(ctx, staffID)
	if err != nil {
		return models.Staff{}, err
	}
	existing.Name = input.Name
	existing.Role = input.Role
	member, err := s.applyAssignment(ctx, existing, input)
	if err != nil {
		return models.Staff{}, err
	}
	if input.Password != "" {
		hash, err := s.hasher.HashPassword(input.Password)
		if err != nil {
			return models.Staff{}, err
		}
		member.PasswordHash = hash
	}
	return s.store.UpdateStaff(ctx, member)
}

func (s *Service) DeleteStaff(ctx context.Context, actor models.Staff, staffID string) error {
	if actor.StaffID == staffID {
		return ErrSelfDelete
	}
	return s.store.DeleteStaff(ctx, staffID)
}

func (s *Service) SystemOpen(ctx context.Context) (bool, error) {
	return s.store.SystemOpen(ctx)
}

// ToggleSystem flips the open switch and returns the new value.
func (s *Service) ToggleSystem(ctx context.Context) (bool, error) {
	open, err := s.store.SystemOpen(ctx)
	if err != nil {
		return false, err
	}
	if err := s.store.SetSystemOpen(ctx, !open); err != nil {
		return false, err
	}
	return !open, nil
}

// applyAssignment sets service and desk for desk staff and clears them for
// every other role.
func (s *Service) applyAssignment(ctx context.Context, member models.Staff, input StaffInput) (models.Staff, error) {
	if member.Role != models.RoleStaff {
		member.ServiceName = ""
		member.DeskNumber = nil
		return member, nil
	}
	serviceName := strings.TrimSpace(input.ServiceName)
	if serviceName == "" || input.DeskNumber == nil {
		return models.Staff{}, errors.Join(ErrInvalidInput, errors.New("staff members need a service and a desk"))
	}
	if _, err := s.store.GetServiceByName(ctx, serviceName); err != nil {
		return models.Staff{}, err
	}
	desk := *input.DeskNumber
	member.ServiceName = serviceName
	member.DeskNumber = &desk
	return member, nil
}

func normalizeService(input ServiceInput) ServiceInput {
	input.Name = strings.TrimSpace(input.Name)
	input.Prefix = strings.ToUpper(strings.TrimSpace(input.Prefix))
	input.Color = strings.TrimSpace(input.Color)
	return input
}
