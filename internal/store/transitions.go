package store

import "qms/walkin-queue/internal/models"

var transitionMap = map[string][]string{
	"claim":   {models.StateWaiting},
	"finish":  {models.StateInService},
	"cleanup": {models.StateInService},
	"recall":  {models.StateInService, models.StateDone},
}

func ValidTransition(action, fromState string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == fromState {
			return true
		}
	}
	return false
}

// DiagnoseFinish explains why a conditional finish matched no row, given the
// ticket as it is now stored.
func DiagnoseFinish(ticket models.Ticket, staffID string) error {
	if !ticket.OwnedBy(staffID) {
		return ErrNotOwner
	}
	if !ValidTransition("finish", ticket.State) {
		return ErrInvalidState
	}
	return ErrConflict
}
