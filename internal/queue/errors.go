package queue

import (
	"errors"

	"qms/walkin-queue/internal/claim"
)

var (
	// ErrContention is retryable: every optimistic attempt lost its race.
	ErrContention   = claim.ErrContention
	ErrAccessDenied = errors.New("access denied")
	ErrNoAssignment = errors.New("staff member has no service or desk assigned")
	ErrSystemClosed = errors.New("system is closed")
	ErrInvalidInput = errors.New("invalid input")
)
