package models

import "time"

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	Label        string     `json:"label"`
	CustomerID   string     `json:"customer_id"`
	ServiceID    string     `json:"service_id"`
	ServiceName  string     `json:"service_name"`
	ServiceColor string     `json:"service_color,omitempty"`
	State        string     `json:"state"`
	Preferential bool       `json:"preferential"`
	RegisteredAt time.Time  `json:"registered_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ClaimedBy    *string    `json:"claimed_by,omitempty"`
	DeskNumber   *int       `json:"desk_number,omitempty"`
}

const (
	StateWaiting   = "waiting"
	StateInService = "in_service"
	StateDone      = "done"
)

// OwnedBy reports whether staffID holds the claim on the ticket.
func (t Ticket) OwnedBy(staffID string) bool {
	return t.ClaimedBy != nil && *t.ClaimedBy == staffID
}
