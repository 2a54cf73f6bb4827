package store

import "errors"

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrStaffNotFound   = errors.New("staff member not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidState    = errors.New("invalid ticket state")
	ErrNotOwner        = errors.New("ticket claimed by another staff member")
	ErrConflict        = errors.New("concurrent update conflict")
	ErrDuplicate       = errors.New("duplicate value")
	ErrServiceInUse    = errors.New("service has tickets")
)
