package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/sequence"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	ticketColumns = `t.ticket_id, t.label, t.customer_id, t.service_id, t.service_name, s.color, t.state,
		t.preferential, t.registered_at, t.called_at, t.finished_at, t.claimed_by, t.desk_number`
	ticketFrom = ` FROM tickets t JOIN services s ON s.service_id = t.service_id`

	serviceColumns = `service_id, name, prefix, current_letter, current_number, color`
	staffColumns   = `staff_id, name, password_hash, role, service_name, desk_number`

	systemOpenKey = "system_open"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	if !validID(serviceID) {
		return models.Service{}, store.ErrServiceNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE service_id = $1`, serviceID)
	return scanService(row)
}

func (s *Store) GetServiceByName(ctx context.Context, name string) (models.Service, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE name = $1`, name)
	return scanService(row)
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]models.Service, 0)
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (s *Store) CreateService(ctx context.Context, service models.Service) (models.Service, error) {
	if service.ServiceID == "" {
		service.ServiceID = uuid.NewString()
	}
	initial := sequence.Initial()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO services (service_id, name, prefix, current_letter, current_number, color)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+serviceColumns,
		service.ServiceID, service.Name, service.Prefix, initial.LetterString(), initial.Number, service.Color)
	created, err := scanService(row)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return models.Service{}, store.ErrDuplicate
		}
		return models.Service{}, err
	}
	return created, nil
}

func (s *Store) UpdateService(ctx context.Context, service models.Service) (_ models.Service, err error) {
	if !validID(service.ServiceID) {
		return models.Service{}, store.ErrServiceNotFound
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Service{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var previousName string
	row := tx.QueryRow(ctx, `SELECT name FROM services WHERE service_id = $1 FOR UPDATE`, service.ServiceID)
	if err = row.Scan(&previousName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE services SET name = $1, prefix = $2, color = $3
		WHERE service_id = $4
		RETURNING `+serviceColumns,
		service.Name, service.Prefix, service.Color, service.ServiceID)
	updated, err := scanService(row)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return models.Service{}, store.ErrDuplicate
		}
		return models.Service{}, err
	}

	if previousName != updated.Name {
		if _, err = tx.Exec(ctx, `UPDATE tickets SET service_name = $1 WHERE service_id = $2`, updated.Name, updated.ServiceID); err != nil {
			return models.Service{}, err
		}
		if _, err = tx.Exec(ctx, `UPDATE staff SET service_name = $1 WHERE service_name = $2`, updated.Name, previousName); err != nil {
			return models.Service{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Service{}, err
	}
	return updated, nil
}

func (s *Store) DeleteService(ctx context.Context, serviceID string) error {
	if !validID(serviceID) {
		return store.ErrServiceNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM services WHERE service_id = $1`, serviceID)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return store.ErrServiceInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrServiceNotFound
	}
	return nil
}

// ResetService deletes the service's tickets and rewinds its counters in one
// transaction, holding the service row lock so registrations wait behind it.
func (s *Store) ResetService(ctx context.Context, serviceID string) (_ int64, err error) {
	if !validID(serviceID) {
		return 0, store.ErrServiceNotFound
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var locked string
	row := tx.QueryRow(ctx, `SELECT service_id FROM services WHERE service_id = $1 FOR UPDATE`, serviceID)
	if err = row.Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrServiceNotFound
		}
		return 0, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM tickets WHERE service_id = $1`, serviceID)
	if err != nil {
		return 0, err
	}
	initial := sequence.Initial()
	if _, err = tx.Exec(ctx, `
		UPDATE services SET current_letter = $1, current_number = $2 WHERE service_id = $3
	`, initial.LetterString(), initial.Number, serviceID); err != nil {
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// IssueTicket bumps the service counters only if they still hold the expected
// pair, then inserts the ticket. Losing either race yields store.ErrConflict.
func (s *Store) IssueTicket(ctx context.Context, input store.IssueTicketInput) (_ models.Ticket, err error) {
	if !validID(input.ServiceID) {
		return models.Ticket{}, store.ErrServiceNotFound
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var serviceName, color string
	row := tx.QueryRow(ctx, `
		UPDATE services SET current_letter = $1, current_number = $2
		WHERE service_id = $3 AND current_letter = $4 AND current_number = $5
		RETURNING name, color
	`, input.NextLetter, input.NextNumber, input.ServiceID, input.ExpectedLetter, input.ExpectedNumber)
	if err = row.Scan(&serviceName, &color); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, existsErr := serviceExists(ctx, tx, input.ServiceID)
			if existsErr != nil {
				return models.Ticket{}, existsErr
			}
			if !exists {
				return models.Ticket{}, store.ErrServiceNotFound
			}
			return models.Ticket{}, store.ErrConflict
		}
		return models.Ticket{}, err
	}

	ticket := input.Ticket
	if ticket.TicketID == "" {
		ticket.TicketID = uuid.NewString()
	}
	if ticket.RegisteredAt.IsZero() {
		ticket.RegisteredAt = time.Now().UTC()
	}
	ticket.ServiceID = input.ServiceID
	ticket.ServiceName = serviceName
	ticket.ServiceColor = color
	ticket.State = models.StateWaiting

	if _, err = tx.Exec(ctx, `
		INSERT INTO tickets (ticket_id, label, customer_id, service_id, service_name, state, preferential, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ticket.TicketID, ticket.Label, ticket.CustomerID, ticket.ServiceID, ticket.ServiceName, ticket.State, ticket.Preferential, ticket.RegisteredAt); err != nil {
		if isPgError(err, pgUniqueViolation) {
			return models.Ticket{}, store.ErrConflict
		}
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if !validID(ticketID) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+ticketFrom+` WHERE t.ticket_id = $1`, ticketID)
	return scanTicket(row)
}

func (s *Store) FindOldestWaiting(ctx context.Context, serviceName string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+ticketFrom+`
		WHERE t.service_name = $1 AND t.state = $2
		ORDER BY t.preferential DESC, t.registered_at ASC, t.label ASC
		LIMIT 1`, serviceName, models.StateWaiting)
	return optionalTicket(scanTicket(row))
}

func (s *Store) CountWaiting(ctx context.Context, serviceName string) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE service_name = $1 AND state = $2`, serviceName, models.StateWaiting)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ConditionalClaim is the single statement that decides a call-next race:
// whichever UPDATE commits first sees the expected state, the rest match no row.
func (s *Store) ConditionalClaim(ctx context.Context, input store.ClaimInput) (int64, error) {
	if !validID(input.TicketID) {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET state = $1, called_at = $2, claimed_by = $3, desk_number = $4
		WHERE ticket_id = $5 AND state = $6
	`, models.StateInService, input.CalledAt, input.StaffID, input.DeskNumber, input.TicketID, input.ExpectedState)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) FinishStaleClaims(ctx context.Context, staffID, keepTicketID string, finishedAt time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets SET state = $1, finished_at = $2
		WHERE claimed_by = $3 AND state = $4 AND ticket_id::text <> $5
	`, models.StateDone, finishedAt, staffID, models.StateInService, keepTicketID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) FinishTicket(ctx context.Context, ticketID, staffID string, finishedAt time.Time) (models.Ticket, error) {
	if !validID(ticketID) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	row := s.pool.QueryRow(ctx, `
		WITH updated AS (
			UPDATE tickets SET state = $1, finished_at = $2
			WHERE ticket_id = $3 AND claimed_by = $4 AND state = $5
			RETURNING *
		)
		SELECT `+ticketColumns+` FROM updated t JOIN services s ON s.service_id = t.service_id
	`, models.StateDone, finishedAt, ticketID, staffID, models.StateInService)
	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, store.ErrTicketNotFound) {
		return models.Ticket{}, err
	}

	current, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	return models.Ticket{}, store.DiagnoseFinish(current, staffID)
}

func (s *Store) GetActiveTicket(ctx context.Context, staffID string) (models.Ticket, bool, error) {
	if !validID(staffID) {
		return models.Ticket{}, false, nil
	}
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+ticketFrom+`
		WHERE t.claimed_by = $1 AND t.state = $2
		ORDER BY t.called_at DESC
		LIMIT 1`, staffID, models.StateInService)
	return optionalTicket(scanTicket(row))
}

func (s *Store) ListWaiting(ctx context.Context, serviceName string) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+ticketFrom+`
		WHERE t.service_name = $1 AND t.state = $2
		ORDER BY t.registered_at ASC, t.label ASC`, serviceName, models.StateWaiting)
}

func (s *Store) RecentCalls(ctx context.Context, limit int) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+ticketFrom+`
		WHERE t.state IN ($1, $2)
		ORDER BY t.called_at DESC, t.label DESC
		LIMIT $3`, models.StateInService, models.StateDone, limit)
}

func (s *Store) CurrentCalls(ctx context.Context, limit int) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+ticketFrom+`
		WHERE t.state = $1
		ORDER BY t.called_at DESC, t.label DESC
		LIMIT $2`, models.StateInService, limit)
}

func (s *Store) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+ticketFrom+`
		ORDER BY t.registered_at ASC, t.label ASC`)
}

func (s *Store) GetStaff(ctx context.Context, staffID string) (models.Staff, error) {
	if !validID(staffID) {
		return models.Staff{}, store.ErrStaffNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+staffColumns+` FROM staff WHERE staff_id = $1`, staffID)
	return scanStaff(row)
}

func (s *Store) GetStaffByName(ctx context.Context, name string) (models.Staff, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+staffColumns+` FROM staff WHERE name = $1`, name)
	return scanStaff(row)
}

func (s *Store) ListStaff(ctx context.Context) ([]models.Staff, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+staffColumns+` FROM staff ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]models.Staff, 0)
	for rows.Next() {
		member, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (s *Store) CreateStaff(ctx context.Context, member models.Staff) (models.Staff, error) {
	if member.StaffID == "" {
		member.StaffID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO staff (staff_id, name, password_hash, role, service_name, desk_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+staffColumns,
		member.StaffID, member.Name, member.PasswordHash, member.Role, nullIfEmpty(member.ServiceName), member.DeskNumber)
	created, err := scanStaff(row)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return models.Staff{}, store.ErrDuplicate
		}
		return models.Staff{}, err
	}
	return created, nil
}

func (s *Store) UpdateStaff(ctx context.Context, member models.Staff) (models.Staff, error) {
	if !validID(member.StaffID) {
		return models.Staff{}, store.ErrStaffNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE staff
		SET name = $1, password_hash = $2, role = $3, service_name = $4, desk_number = $5
		WHERE staff_id = $6
		RETURNING `+staffColumns,
		member.Name, member.PasswordHash, member.Role, nullIfEmpty(member.ServiceName), member.DeskNumber, member.StaffID)
	updated, err := scanStaff(row)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return models.Staff{}, store.ErrDuplicate
		}
		return models.Staff{}, err
	}
	return updated, nil
}

func (s *Store) DeleteStaff(ctx context.Context, staffID string) error {
	if !validID(staffID) {
		return store.ErrStaffNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM staff WHERE staff_id = $1`, staffID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStaffNotFound
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, staffID string, expiresAt time.Time) (models.Session, error) {
	session := models.Session{SessionID: uuid.NewString(), StaffID: staffID, ExpiresAt: expiresAt}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, staff_id, expires_at) VALUES ($1, $2, $3)
	`, session.SessionID, session.StaffID, session.ExpiresAt); err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return models.Session{}, store.ErrStaffNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	if !validID(sessionID) {
		return models.Session{}, store.ErrSessionNotFound
	}
	var session models.Session
	row := s.pool.QueryRow(ctx, `SELECT session_id, staff_id, expires_at FROM sessions WHERE session_id = $1`, sessionID)
	if err := row.Scan(&session.SessionID, &session.StaffID, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if !validID(sessionID) {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	return err
}

// SystemOpen treats a missing setting as open.
func (s *Store) SystemOpen(ctx context.Context) (bool, error) {
	var value string
	row := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, systemOpenKey)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, err
	}
	open, err := strconv.ParseBool(value)
	if err != nil {
		return true, nil
	}
	return open, nil
}

func (s *Store) SetSystemOpen(ctx context.Context, open bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, systemOpenKey, strconv.FormatBool(open))
	return err
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]models.Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func serviceExists(ctx context.Context, tx pgx.Tx, serviceID string) (bool, error) {
	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM services WHERE service_id = $1)`, serviceID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func scanService(row scanner) (models.Service, error) {
	var svc models.Service
	if err := row.Scan(&svc.ServiceID, &svc.Name, &svc.Prefix, &svc.CurrentLetter, &svc.CurrentNumber, &svc.Color); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return svc, nil
}

func scanTicket(row scanner) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAtNull sql.NullTime
	var finishedAtNull sql.NullTime
	var claimedByNull sql.NullString
	var deskNull sql.NullInt32
	if err := row.Scan(&ticket.TicketID, &ticket.Label, &ticket.CustomerID, &ticket.ServiceID, &ticket.ServiceName,
		&ticket.ServiceColor, &ticket.State, &ticket.Preferential, &ticket.RegisteredAt,
		&calledAtNull, &finishedAtNull, &claimedByNull, &deskNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.FinishedAt = nullTimePtr(finishedAtNull)
	ticket.ClaimedBy = nullStringPtr(claimedByNull)
	ticket.DeskNumber = nullIntPtr(deskNull)
	return ticket, nil
}

func scanStaff(row scanner) (models.Staff, error) {
	var member models.Staff
	var serviceNull sql.NullString
	var deskNull sql.NullInt32
	if err := row.Scan(&member.StaffID, &member.Name, &member.PasswordHash, &member.Role, &serviceNull, &deskNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Staff{}, store.ErrStaffNotFound
		}
		return models.Staff{}, err
	}
	if serviceNull.Valid {
		member.ServiceName = serviceNull.String
	}
	member.DeskNumber = nullIntPtr(deskNull)
	return member, nil
}

func optionalTicket(ticket models.Ticket, err error) (models.Ticket, bool, error) {
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullIntPtr(value sql.NullInt32) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int32)
	return &v
}
