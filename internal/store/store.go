package store

import (
	"context"
	"time"

	"qms/walkin-queue/internal/models"
)

// IssueTicketInput carries a ticket computed from the service sequence read
// at ExpectedLetter/ExpectedNumber. The counter bump only applies while the
// service row still holds the expected pair.
type IssueTicketInput struct {
	ServiceID      string
	ExpectedLetter string
	ExpectedNumber int
	NextLetter     string
	NextNumber     int
	Ticket         models.Ticket
}

// ClaimInput moves a ticket out of ExpectedState into in_service.
type ClaimInput struct {
	TicketID      string
	ExpectedState string
	StaffID       string
	DeskNumber    int
	CalledAt      time.Time
}

type ServiceStore interface {
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	GetServiceByName(ctx context.Context, name string) (models.Service, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	CreateService(ctx context.Context, service models.Service) (models.Service, error)
	UpdateService(ctx context.Context, service models.Service) (models.Service, error)
	DeleteService(ctx context.Context, serviceID string) error
	ResetService(ctx context.Context, serviceID string) (int64, error)
}

type TicketStore interface {
	IssueTicket(ctx context.Context, input IssueTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	FindOldestWaiting(ctx context.Context, serviceName string) (models.Ticket, bool, error)
	CountWaiting(ctx context.Context, serviceName string) (int, error)
	ConditionalClaim(ctx context.Context, input ClaimInput) (int64, error)
	FinishStaleClaims(ctx context.Context, staffID, keepTicketID string, finishedAt time.Time) (int64, error)
	FinishTicket(ctx context.Context, ticketID, staffID string, finishedAt time.Time) (models.Ticket, error)
	GetActiveTicket(ctx context.Context, staffID string) (models.Ticket, bool, error)
	ListWaiting(ctx context.Context, serviceName string) ([]models.Ticket, error)
	RecentCalls(ctx context.Context, limit int) ([]models.Ticket, error)
	CurrentCalls(ctx context.Context, limit int) ([]models.Ticket, error)
	ListTickets(ctx context.Context) ([]models.Ticket, error)
}

type StaffStore interface {
	GetStaff(ctx context.Context, staffID string) (models.Staff, error)
	GetStaffByName(ctx context.Context, name string) (models.Staff, error)
	ListStaff(ctx context.Context) ([]models.Staff, error)
	CreateStaff(ctx context.Context, staff models.Staff) (models.Staff, error)
	UpdateStaff(ctx context.Context, staff models.Staff) (models.Staff, error)
	DeleteStaff(ctx context.Context, staffID string) error
	CreateSession(ctx context.Context, staffID string, expiresAt time.Time) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type SettingsStore interface {
	SystemOpen(ctx context.Context) (bool, error)
	SetSystemOpen(ctx context.Context, open bool) error
}

type Store interface {
	ServiceStore
	TicketStore
	StaffStore
	SettingsStore
}
