package queue

import (
	"context"
	"encoding/json"
	"time"

	"qms/walkin-queue/internal/hub"
	"qms/walkin-queue/internal/models"
)

const (
	EventTicketRegistered = "ticket.registered"
	EventTicketCalled     = "ticket.called"
	EventTicketFinished   = "ticket.finished"
	EventServiceReset     = "service.reset"
)

type Publisher interface {
	Publish(ctx context.Context, event hub.Event) error
}

type HistoryEntry struct {
	Label       string `json:"label"`
	ServiceName string `json:"service_name"`
	DeskNumber  int    `json:"desk_number"`
	Color       string `json:"color"`
}

type CallEntry struct {
	TicketID     string `json:"ticket_id"`
	Label        string `json:"label"`
	ServiceName  string `json:"service_name"`
	Color        string `json:"color"`
	DeskNumber   int    `json:"desk_number"`
	Preferential bool   `json:"preferential"`
}

type RegisteredPayload struct {
	TicketID     string    `json:"ticket_id"`
	Label        string    `json:"label"`
	ServiceName  string    `json:"service_name"`
	Color        string    `json:"color"`
	Preferential bool      `json:"preferential"`
	RegisteredAt time.Time `json:"registered_at"`
}

type CalledPayload struct {
	Call    CallEntry      `json:"call"`
	Recall  bool           `json:"recall"`
	History []HistoryEntry `json:"history"`
}

type FinishedPayload struct {
	TicketID string         `json:"ticket_id"`
	Label    string         `json:"label"`
	History  []HistoryEntry `json:"history"`
}

type ResetPayload struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Deleted     int64  `json:"deleted"`
}

func callEntry(t models.Ticket) CallEntry {
	return CallEntry{
		TicketID:     t.TicketID,
		Label:        t.Label,
		ServiceName:  t.ServiceName,
		Color:        t.ServiceColor,
		DeskNumber:   deskOf(t),
		Preferential: t.Preferential,
	}
}

func historyEntries(tickets []models.Ticket) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(tickets))
	for _, t := range tickets {
		entries = append(entries, HistoryEntry{
			Label:       t.Label,
			ServiceName: t.ServiceName,
			DeskNumber:  deskOf(t),
			Color:       t.ServiceColor,
		})
	}
	return entries
}

func deskOf(t models.Ticket) int {
	if t.DeskNumber == nil {
		return 0
	}
	return *t.DeskNumber
}

// emit runs after the store has committed. Failures are logged, never
// returned: the mutation already happened.
func (s *Service) emit(ctx context.Context, topic, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("encode event")
		return
	}
	event := hub.Event{Topic: topic, Type: eventType, Payload: data, CreatedAt: s.now().UTC()}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("topic", topic).Msg("publish event")
	}
}

func (s *Service) history(ctx context.Context) []HistoryEntry {
	recent, err := s.store.RecentCalls(ctx, s.historySize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load call history")
		return []HistoryEntry{}
	}
	return historyEntries(recent)
}
