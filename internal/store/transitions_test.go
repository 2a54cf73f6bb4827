package store

import (
	"errors"
	"testing"

	"qms/walkin-queue/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"claim", "waiting", true},
		{"claim", "in_service", false},
		{"claim", "done", false},
		{"finish", "in_service", true},
		{"finish", "waiting", false},
		{"finish", "done", false},
		{"cleanup", "in_service", true},
		{"cleanup", "done", false},
		{"recall", "in_service", true},
		{"recall", "done", true},
		{"recall", "waiting", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestDiagnoseFinish(t *testing.T) {
	owner := "staff-1"
	other := "staff-2"
	desk := 3

	waiting := models.Ticket{TicketID: "t1", State: models.StateWaiting}
	if err := DiagnoseFinish(waiting, owner); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("waiting ticket: expected ErrNotOwner, got %v", err)
	}

	claimed := models.Ticket{TicketID: "t2", State: models.StateInService, ClaimedBy: &owner, DeskNumber: &desk}
	if err := DiagnoseFinish(claimed, other); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign ticket: expected ErrNotOwner, got %v", err)
	}

	done := claimed
	done.State = models.StateDone
	if err := DiagnoseFinish(done, owner); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("done ticket: expected ErrInvalidState, got %v", err)
	}
}
