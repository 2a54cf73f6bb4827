// Package queue implements the queue operations staff and registrars perform:
// registering customers, calling the next ticket, recalling and finishing a
// call, and resetting a service. Each successful mutation publishes exactly
// one event after the store has committed it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/walkin-queue/internal/claim"
	"qms/walkin-queue/internal/hub"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/sequence"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRegisterAttempts = 3
	defaultHistorySize      = 4
	defaultDisplaySize      = 2
)

type Store interface {
	store.ServiceStore
	store.TicketStore
	store.SettingsStore
}

type Options struct {
	RegisterMaxAttempts int
	HistorySize         int
	DisplaySize         int
	Now                 func() time.Time
}

type Service struct {
	store            Store
	coordinator      *claim.Coordinator
	publisher        Publisher
	logger           zerolog.Logger
	tracer           trace.Tracer
	registerAttempts int
	historySize      int
	displaySize      int
	now              func() time.Time
}

type RegisterInput struct {
	CustomerID   string
	ServiceID    string
	Preferential bool
}

type DisplayView struct {
	Current []CallEntry    `json:"current"`
	History []HistoryEntry `json:"history"`
}

type PanelView struct {
	ServiceName string          `json:"service_name"`
	DeskNumber  int             `json:"desk_number"`
	Waiting     []models.Ticket `json:"waiting"`
	Active      *models.Ticket  `json:"active,omitempty"`
}

func NewService(st Store, publisher Publisher, logger zerolog.Logger, opts Options) *Service {
	if opts.RegisterMaxAttempts <= 0 {
		opts.RegisterMaxAttempts = defaultRegisterAttempts
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.DisplaySize <= 0 {
		opts.DisplaySize = defaultDisplaySize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:            st,
		coordinator:      claim.NewCoordinator(st, logger),
		publisher:        publisher,
		logger:           logger,
		tracer:           otel.Tracer("qms/queue"),
		registerAttempts: opts.RegisterMaxAttempts,
		historySize:      opts.HistorySize,
		displaySize:      opts.DisplaySize,
		now:              opts.Now,
	}
}

// Register issues the next label of the service to a customer. A lost race on
// the service counters reloads the service and retries.
func (s *Service) Register(ctx context.Context, actor models.Staff, input RegisterInput) (ticket models.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Register")
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, actor, opRegister); err != nil {
		return models.Ticket{}, err
	}
	customerID := strings.TrimSpace(input.CustomerID)
	if customerID == "" || input.ServiceID == "" {
		return models.Ticket{}, fmt.Errorf("customer and service are required: %w", ErrInvalidInput)
	}

	for attempt := 1; attempt <= s.registerAttempts; attempt++ {
		svc, err := s.store.GetService(ctx, input.ServiceID)
		if err != nil {
			return models.Ticket{}, err
		}
		current, err := sequence.FromService(svc.CurrentLetter, svc.CurrentNumber)
		if err != nil {
			return models.Ticket{}, fmt.Errorf("service %s: %w", svc.Name, err)
		}
		label, next := sequence.Next(svc.Prefix, current)

		issued, err := s.store.IssueTicket(ctx, store.IssueTicketInput{
			ServiceID:      svc.ServiceID,
			ExpectedLetter: current.LetterString(),
			ExpectedNumber: current.Number,
			NextLetter:     next.LetterString(),
			NextNumber:     next.Number,
			Ticket: models.Ticket{
				TicketID:     uuid.NewString(),
				Label:        label,
				CustomerID:   customerID,
				Preferential: input.Preferential,
				RegisteredAt: s.now().UTC(),
			},
		})
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug().Str("service", svc.Name).Str("label", label).Int("attempt", attempt).Msg("registration race lost")
			continue
		}
		if err != nil {
			return models.Ticket{}, err
		}

		span.SetAttributes(
			attribute.String("qms.service", issued.ServiceName),
			attribute.String("qms.ticket", issued.Label),
			attribute.Int("qms.attempts", attempt),
		)
		s.emit(ctx, issued.ServiceName, EventTicketRegistered, RegisteredPayload{
			TicketID:     issued.TicketID,
			Label:        issued.Label,
			ServiceName:  issued.ServiceName,
			Color:        issued.ServiceColor,
			Preferential: issued.Preferential,
			RegisteredAt: issued.RegisteredAt,
		})
		return issued, nil
	}

	return models.Ticket{}, fmt.Errorf("register after %d attempts: %w", s.registerAttempts, ErrContention)
}

// CallNext claims the next waiting ticket of the actor's service. ok is false
// when nothing is waiting.
func (s *Service) CallNext(ctx context.Context, actor models.Staff) (ticket models.Ticket, ok bool, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.CallNext")
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, actor, opCallNext); err != nil {
		return models.Ticket{}, false, err
	}

	result, ok, err := s.coordinator.ClaimNext(ctx, claim.Request{
		ServiceName: actor.ServiceName,
		StaffID:     actor.StaffID,
		DeskNumber:  *actor.DeskNumber,
		At:          s.now().UTC(),
	})
	span.SetAttributes(
		attribute.String("qms.service", actor.ServiceName),
		attribute.Int("qms.attempts", result.Attempts),
	)
	if err != nil || !ok {
		return models.Ticket{}, false, err
	}

	span.SetAttributes(attribute.String("qms.ticket", result.Ticket.Label))
	s.emit(ctx, hub.PublicDisplayTopic, EventTicketCalled, CalledPayload{
		Call:    callEntry(result.Ticket),
		History: s.history(ctx),
	})
	return result.Ticket, true, nil
}

// Recall announces an owned ticket again. Nothing is mutated, so recalling N
// times yields N identical announcements.
func (s *Service) Recall(ctx context.Context, actor models.Staff, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Recall")
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, actor, opRecall); err != nil {
		return models.Ticket{}, err
	}
	ticket, err = s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !ticket.OwnedBy(actor.StaffID) {
		return models.Ticket{}, store.ErrNotOwner
	}
	if !store.ValidTransition("recall", ticket.State) {
		return models.Ticket{}, store.ErrInvalidState
	}

	span.SetAttributes(attribute.String("qms.ticket", ticket.Label))
	s.emit(ctx, hub.PublicDisplayTopic, EventTicketCalled, CalledPayload{
		Call:    callEntry(ticket),
		Recall:  true,
		History: s.history(ctx),
	})
	return ticket, nil
}

func (s *Service) Finish(ctx context.Context, actor models.Staff, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Finish")
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, actor, opFinish); err != nil {
		return models.Ticket{}, err
	}
	ticket, err = s.store.FinishTicket(ctx, ticketID, actor.StaffID, s.now().UTC())
	if err != nil {
		return models.Ticket{}, err
	}

	span.SetAttributes(attribute.String("qms.ticket", ticket.Label))
	s.emit(ctx, hub.PublicDisplayTopic, EventTicketFinished, FinishedPayload{
		TicketID: ticket.TicketID,
		Label:    ticket.Label,
		History:  s.history(ctx),
	})
	return ticket, nil
}

// ResetService deletes every ticket of the service and rewinds its counters.
func (s *Service) ResetService(ctx context.Context, actor models.Staff, serviceID string) (deleted int64, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.ResetService")
	defer func() { endSpan(span, err) }()

	if err = s.authorize(ctx, actor, opReset); err != nil {
		return 0, err
	}
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	deleted, err = s.store.ResetService(ctx, serviceID)
	if err != nil {
		return 0, err
	}

	s.logger.Info().Str("service", svc.Name).Int64("deleted", deleted).Str("staff_id", actor.StaffID).Msg("service reset")
	span.SetAttributes(attribute.String("qms.service", svc.Name), attribute.Int64("qms.deleted", deleted))
	s.emit(ctx, svc.Name, EventServiceReset, ResetPayload{
		ServiceID:   svc.ServiceID,
		ServiceName: svc.Name,
		Deleted:     deleted,
	})
	return deleted, nil
}

// Display is the public screen: the latest calls still in service plus the
// rolling history.
func (s *Service) Display(ctx context.Context) (DisplayView, error) {
	current, err := s.store.CurrentCalls(ctx, s.displaySize)
	if err != nil {
		return DisplayView{}, err
	}
	recent, err := s.store.RecentCalls(ctx, s.historySize)
	if err != nil {
		return DisplayView{}, err
	}
	view := DisplayView{Current: make([]CallEntry, 0, len(current)), History: historyEntries(recent)}
	for _, t := range current {
		view.Current = append(view.Current, callEntry(t))
	}
	return view, nil
}

func (s *Service) Panel(ctx context.Context, actor models.Staff) (PanelView, error) {
	if err := s.authorize(ctx, actor, opPanel); err != nil {
		return PanelView{}, err
	}
	waiting, err := s.store.ListWaiting(ctx, actor.ServiceName)
	if err != nil {
		return PanelView{}, err
	}
	view := PanelView{ServiceName: actor.ServiceName, DeskNumber: *actor.DeskNumber, Waiting: waiting}
	active, found, err := s.store.GetActiveTicket(ctx, actor.StaffID)
	if err != nil {
		return PanelView{}, err
	}
	if found {
		view.Active = &active
	}
	return view, nil
}

func (s *Service) Services(ctx context.Context) ([]models.Service, error) {
	return s.store.ListServices(ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
