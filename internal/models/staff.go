package models

import "time"

type Staff struct {
	StaffID      string `json:"staff_id"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	ServiceName  string `json:"service_name,omitempty"`
	DeskNumber   *int   `json:"desk_number,omitempty"`
}

type Session struct {
	SessionID string    `json:"session_id"`
	StaffID   string    `json:"staff_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

const (
	RoleStaff     = "staff"
	RoleRegistrar = "registrar"
	RoleAdmin     = "admin"
)

func ValidRole(role string) bool {
	switch role {
	case RoleStaff, RoleRegistrar, RoleAdmin:
		return true
	default:
		return false
	}
}
