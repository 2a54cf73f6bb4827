// Package claim hands the next waiting ticket of a service to exactly one
// staff member, even when several desks call at the same moment.
//
// The coordinator holds no locks. It reads the best candidate, attempts a
// conditional claim and, on losing the race, reads again. The store's
// conditional update is the only arbiter.
package claim

import (
	"context"
	"errors"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"github.com/rs/zerolog"
)

// ErrContention means every attempt lost its race. Callers may retry.
var ErrContention = errors.New("claim contention limit exceeded")

type Store interface {
	FindOldestWaiting(ctx context.Context, serviceName string) (models.Ticket, bool, error)
	CountWaiting(ctx context.Context, serviceName string) (int, error)
	ConditionalClaim(ctx context.Context, input store.ClaimInput) (int64, error)
	FinishStaleClaims(ctx context.Context, staffID, keepTicketID string, finishedAt time.Time) (int64, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
}

type Request struct {
	ServiceName string
	StaffID     string
	DeskNumber  int
	At          time.Time
}

type Result struct {
	Ticket        models.Ticket
	Attempts      int
	StaleFinished int64
}

type Coordinator struct {
	store  Store
	logger zerolog.Logger
}

func NewCoordinator(st Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{store: st, logger: logger}
}

// ClaimNext returns ok=false when the service has nothing waiting. Attempts
// are capped at the waiting count seen on entry plus one.
func (c *Coordinator) ClaimNext(ctx context.Context, req Request) (Result, bool, error) {
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	waiting, err := c.store.CountWaiting(ctx, req.ServiceName)
	if err != nil {
		return Result{}, false, err
	}
	limit := waiting + 1
	lost := make(map[string]struct{})

	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, false, err
		}

		candidate, found, err := c.store.FindOldestWaiting(ctx, req.ServiceName)
		if err != nil {
			return Result{}, false, err
		}
		if !found {
			return Result{Attempts: attempt}, false, nil
		}
		if _, seen := lost[candidate.TicketID]; seen {
			continue
		}

		rows, err := c.store.ConditionalClaim(ctx, store.ClaimInput{
			TicketID:      candidate.TicketID,
			ExpectedState: models.StateWaiting,
			StaffID:       req.StaffID,
			DeskNumber:    req.DeskNumber,
			CalledAt:      at,
		})
		if err != nil {
			return Result{}, false, err
		}
		if rows == 0 {
			lost[candidate.TicketID] = struct{}{}
			c.logger.Debug().
				Str("service", req.ServiceName).
				Str("ticket", candidate.Label).
				Int("attempt", attempt).
				Msg("claim race lost")
			continue
		}

		stale, err := c.store.FinishStaleClaims(ctx, req.StaffID, candidate.TicketID, at)
		if err != nil {
			return Result{}, false, err
		}
		if stale > 0 {
			c.logger.Warn().
				Str("staff_id", req.StaffID).
				Int64("count", stale).
				Msg("finished stale in-service tickets")
		}

		ticket, err := c.store.GetTicket(ctx, candidate.TicketID)
		if err != nil {
			return Result{}, false, err
		}
		return Result{Ticket: ticket, Attempts: attempt, StaleFinished: stale}, true, nil
	}

	return Result{Attempts: limit}, false, ErrContention
}
