package queue

import (
	"context"
	"fmt"

	"qms/walkin-queue/internal/models"
)

type operation string

const (
	opRegister operation = "register"
	opCallNext operation = "call_next"
	opRecall   operation = "recall"
	opFinish   operation = "finish"
	opPanel    operation = "panel"
	opReset    operation = "reset_service"
)

// Roles match exactly: an admin is not implicitly a registrar or a desk.
var capabilities = map[string]map[operation]bool{
	models.RoleRegistrar: {opRegister: true},
	models.RoleStaff:     {opCallNext: true, opRecall: true, opFinish: true, opPanel: true},
	models.RoleAdmin:     {opReset: true},
}

func needsAssignment(op operation) bool {
	return op == opCallNext || op == opPanel
}

func (s *Service) authorize(ctx context.Context, actor models.Staff, op operation) error {
	if !capabilities[actor.Role][op] {
		return fmt.Errorf("%s as %q: %w", op, actor.Role, ErrAccessDenied)
	}
	if needsAssignment(op) && (actor.ServiceName == "" || actor.DeskNumber == nil) {
		return ErrNoAssignment
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	open, err := s.store.SystemOpen(ctx)
	if err != nil {
		return err
	}
	if !open {
		return ErrSystemClosed
	}
	return nil
}
