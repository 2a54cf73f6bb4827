// Package memstore is an in-process implementation of store.Store. A single
// mutex stands in for row-level atomicity, so every conditional update
// behaves like its SQL counterpart in the postgres package.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/sequence"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu         sync.Mutex
	services   map[string]models.Service
	tickets    map[string]models.Ticket
	staff      map[string]models.Staff
	sessions   map[string]models.Session
	systemOpen *bool
	now        func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		services: make(map[string]models.Service),
		tickets:  make(map[string]models.Ticket),
		staff:    make(map[string]models.Staff),
		sessions: make(map[string]models.Session),
		now:      time.Now,
	}
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return svc, nil
}

func (s *Store) GetServiceByName(ctx context.Context, name string) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return models.Service{}, store.ErrServiceNotFound
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateService(ctx context.Context, service models.Service) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serviceClashLocked(service) {
		return models.Service{}, store.ErrDuplicate
	}
	if service.ServiceID == "" {
		service.ServiceID = uuid.NewString()
	}
	initial := sequence.Initial()
	service.CurrentLetter = initial.LetterString()
	service.CurrentNumber = initial.Number
	s.services[service.ServiceID] = service
	return service, nil
}

func (s *Store) UpdateService(ctx context.Context, service models.Service) (models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.services[service.ServiceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	if s.serviceClashLocked(service) {
		return models.Service{}, store.ErrDuplicate
	}
	previousName := existing.Name
	existing.Name = service.Name
	existing.Prefix = service.Prefix
	existing.Color = service.Color
	s.services[existing.ServiceID] = existing
	if previousName != existing.Name {
		s.renameServiceLocked(previousName, existing.Name)
	}
	return existing, nil
}

func (s *Store) DeleteService(ctx context.Context, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[serviceID]; !ok {
		return store.ErrServiceNotFound
	}
	for _, t := range s.tickets {
		if t.ServiceID == serviceID {
			return store.ErrServiceInUse
		}
	}
	delete(s.services, serviceID)
	return nil
}

func (s *Store) ResetService(ctx context.Context, serviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return 0, store.ErrServiceNotFound
	}
	var deleted int64
	for id, t := range s.tickets {
		if t.ServiceID == serviceID {
			delete(s.tickets, id)
			deleted++
		}
	}
	initial := sequence.Initial()
	svc.CurrentLetter = initial.LetterString()
	svc.CurrentNumber = initial.Number
	s.services[serviceID] = svc
	return deleted, nil
}

func (s *Store) IssueTicket(ctx context.Context, input store.IssueTicketInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[input.ServiceID]
	if !ok {
		return models.Ticket{}, store.ErrServiceNotFound
	}
	if svc.CurrentLetter != input.ExpectedLetter || svc.CurrentNumber != input.ExpectedNumber {
		return models.Ticket{}, store.ErrConflict
	}
	for _, t := range s.tickets {
		if t.ServiceID == svc.ServiceID && t.Label == input.Ticket.Label {
			return models.Ticket{}, store.ErrConflict
		}
	}

	ticket := input.Ticket
	if ticket.TicketID == "" {
		ticket.TicketID = uuid.NewString()
	}
	if ticket.RegisteredAt.IsZero() {
		ticket.RegisteredAt = s.now().UTC()
	}
	ticket.ServiceID = svc.ServiceID
	ticket.ServiceName = svc.Name
	ticket.State = models.StateWaiting
	ticket.CalledAt = nil
	ticket.FinishedAt = nil
	ticket.ClaimedBy = nil
	ticket.DeskNumber = nil

	svc.CurrentLetter = input.NextLetter
	svc.CurrentNumber = input.NextNumber
	s.services[svc.ServiceID] = svc
	s.tickets[ticket.TicketID] = ticket
	return s.decorateLocked(ticket), nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return s.decorateLocked(t), nil
}

func (s *Store) FindOldestWaiting(ctx context.Context, serviceName string) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiting := s.filterLocked(func(t models.Ticket) bool {
		return t.ServiceName == serviceName && t.State == models.StateWaiting
	})
	if len(waiting) == 0 {
		return models.Ticket{}, false, nil
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		if waiting[i].Preferential != waiting[j].Preferential {
			return waiting[i].Preferential
		}
		return registeredBefore(waiting[i], waiting[j])
	})
	return waiting[0], true, nil
}

func (s *Store) CountWaiting(ctx context.Context, serviceName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tickets {
		if t.ServiceName == serviceName && t.State == models.StateWaiting {
			count++
		}
	}
	return count, nil
}

func (s *Store) ConditionalClaim(ctx context.Context, input store.ClaimInput) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[input.TicketID]
	if !ok || t.State != input.ExpectedState {
		return 0, nil
	}
	calledAt := input.CalledAt
	staffID := input.StaffID
	desk := input.DeskNumber
	t.State = models.StateInService
	t.CalledAt = &calledAt
	t.ClaimedBy = &staffID
	t.DeskNumber = &desk
	s.tickets[t.TicketID] = t
	return 1, nil
}

func (s *Store) FinishStaleClaims(ctx context.Context, staffID, keepTicketID string, finishedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var finished int64
	for id, t := range s.tickets {
		if id == keepTicketID || t.State != models.StateInService || !t.OwnedBy(staffID) {
			continue
		}
		at := finishedAt
		t.State = models.StateDone
		t.FinishedAt = &at
		s.tickets[id] = t
		finished++
	}
	return finished, nil
}

func (s *Store) FinishTicket(ctx context.Context, ticketID, staffID string, finishedAt time.Time) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !t.OwnedBy(staffID) || !store.ValidTransition("finish", t.State) {
		return models.Ticket{}, store.DiagnoseFinish(t, staffID)
	}
	at := finishedAt
	t.State = models.StateDone
	t.FinishedAt = &at
	s.tickets[ticketID] = t
	return s.decorateLocked(t), nil
}

func (s *Store) GetActiveTicket(ctx context.Context, staffID string) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := s.filterLocked(func(t models.Ticket) bool {
		return t.State == models.StateInService && t.OwnedBy(staffID)
	})
	if len(active) == 0 {
		return models.Ticket{}, false, nil
	}
	sortByCalledDesc(active)
	return active[0], true, nil
}

func (s *Store) ListWaiting(ctx context.Context, serviceName string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiting := s.filterLocked(func(t models.Ticket) bool {
		return t.ServiceName == serviceName && t.State == models.StateWaiting
	})
	sort.SliceStable(waiting, func(i, j int) bool { return registeredBefore(waiting[i], waiting[j]) })
	return waiting, nil
}

func (s *Store) RecentCalls(ctx context.Context, limit int) ([]models.Ticket, error) {
	return s.calls(limit, models.StateInService, models.StateDone)
}

func (s *Store) CurrentCalls(ctx context.Context, limit int) ([]models.Ticket, error) {
	return s.calls(limit, models.StateInService)
}

func (s *Store) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.filterLocked(func(models.Ticket) bool { return true })
	sort.SliceStable(all, func(i, j int) bool { return registeredBefore(all[i], all[j]) })
	return all, nil
}

func (s *Store) GetStaff(ctx context.Context, staffID string) (models.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.staff[staffID]
	if !ok {
		return models.Staff{}, store.ErrStaffNotFound
	}
	return member, nil
}

func (s *Store) GetStaffByName(ctx context.Context, name string) (models.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, member := range s.staff {
		if member.Name == name {
			return member, nil
		}
	}
	return models.Staff{}, store.ErrStaffNotFound
}

func (s *Store) ListStaff(ctx context.Context) ([]models.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Staff, 0, len(s.staff))
	for _, member := range s.staff {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateStaff(ctx context.Context, member models.Staff) (models.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.staff {
		if existing.Name == member.Name {
			return models.Staff{}, store.ErrDuplicate
		}
	}
	if member.StaffID == "" {
		member.StaffID = uuid.NewString()
	}
	s.staff[member.StaffID] = member
	return member, nil
}

func (s *Store) UpdateStaff(ctx context.Context, member models.Staff) (models.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staff[member.StaffID]; !ok {
		return models.Staff{}, store.ErrStaffNotFound
	}
	for id, existing := range s.staff {
		if id != member.StaffID && existing.Name == member.Name {
			return models.Staff{}, store.ErrDuplicate
		}
	}
	s.staff[member.StaffID] = member
	return member, nil
}

func (s *Store) DeleteStaff(ctx context.Context, staffID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staff[staffID]; !ok {
		return store.ErrStaffNotFound
	}
	delete(s.staff, staffID)
	for id, session := range s.sessions {
		if session.StaffID == staffID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, staffID string, expiresAt time.Time) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staff[staffID]; !ok {
		return models.Session{}, store.ErrStaffNotFound
	}
	session := models.Session{SessionID: uuid.NewString(), StaffID: staffID, ExpiresAt: expiresAt}
	s.sessions[session.SessionID] = session
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) SystemOpen(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.systemOpen == nil {
		return true, nil
	}
	return *s.systemOpen, nil
}

func (s *Store) SetSystemOpen(ctx context.Context, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemOpen = &open
	return nil
}

func (s *Store) calls(limit int, states ...string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := s.filterLocked(func(t models.Ticket) bool {
		if t.CalledAt == nil {
			return false
		}
		for _, state := range states {
			if t.State == state {
				return true
			}
		}
		return false
	})
	sortByCalledDesc(calls)
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}

func (s *Store) filterLocked(keep func(models.Ticket) bool) []models.Ticket {
	out := make([]models.Ticket, 0)
	for _, t := range s.tickets {
		if keep(t) {
			out = append(out, s.decorateLocked(t))
		}
	}
	return out
}

func (s *Store) decorateLocked(t models.Ticket) models.Ticket {
	if svc, ok := s.services[t.ServiceID]; ok {
		t.ServiceColor = svc.Color
	}
	return t
}

func (s *Store) serviceClashLocked(service models.Service) bool {
	for id, existing := range s.services {
		if id == service.ServiceID {
			continue
		}
		if strings.EqualFold(existing.Name, service.Name) || strings.EqualFold(existing.Prefix, service.Prefix) {
			return true
		}
	}
	return false
}

func (s *Store) renameServiceLocked(from, to string) {
	for id, t := range s.tickets {
		if t.ServiceName == from {
			t.ServiceName = to
			s.tickets[id] = t
		}
	}
	for id, member := range s.staff {
		if member.ServiceName == from {
			member.ServiceName = to
			s.staff[id] = member
		}
	}
}

func registeredBefore(a, b models.Ticket) bool {
	if a.RegisteredAt.Equal(b.RegisteredAt) {
		return a.Label < b.Label
	}
	return a.RegisteredAt.Before(b.RegisteredAt)
}

func sortByCalledDesc(tickets []models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i].CalledAt, tickets[j].CalledAt
		if a.Equal(*b) {
			return tickets[i].Label > tickets[j].Label
		}
		return a.After(*b)
	})
}
