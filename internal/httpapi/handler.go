package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"qms/walkin-queue/internal/admin"
	"qms/walkin-queue/internal/auth"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/report"
	"qms/walkin-queue/internal/store"

	"github.com/rs/zerolog"
)

type QueueService interface {
	Register(ctx context.Context, actor models.Staff, input queue.RegisterInput) (models.Ticket, error)
	CallNext(ctx context.Context, actor models.Staff) (models.Ticket, bool, error)
	Recall(ctx context.Context, actor models.Staff, ticketID string) (models.Ticket, error)
	Finish(ctx context.Context, actor models.Staff, ticketID string) (models.Ticket, error)
	ResetService(ctx context.Context, actor models.Staff, serviceID string) (int64, error)
	Display(ctx context.Context) (queue.DisplayView, error)
	Panel(ctx context.Context, actor models.Staff) (queue.PanelView, error)
	Services(ctx context.Context) ([]models.Service, error)
}

type Authenticator interface {
	Login(ctx context.Context, name, password string) (models.Session, models.Staff, error)
	Logout(ctx context.Context, sessionID string) error
	Resolve(ctx context.Context, sessionID string) (models.Staff, error)
	ChangePassword(ctx context.Context, member models.Staff, current, next, confirm string) error
}

type Administrator interface {
	ListServices(ctx context.Context) ([]models.Service, error)
	CreateService(ctx context.Context, input admin.ServiceInput) (models.Service, error)
	UpdateService(ctx context.Context, serviceID string, input admin.ServiceInput) (models.Service, error)
	DeleteService(ctx context.Context, serviceID string) error
	ListStaff(ctx context.Context) ([]models.Staff, error)
	CreateStaff(ctx context.Context, input admin.StaffInput) (models.Staff, error)
	UpdateStaff(ctx context.Context, staffID string, input admin.StaffInput) (models.Staff, error)
	DeleteStaff(ctx context.Context, actor models.Staff, staffID string) error
	SystemOpen(ctx context.Context) (bool, error)
	ToggleSystem(ctx context.Context) (bool, error)
}

type Reporter interface {
	Dashboard(ctx context.Context, day time.Time) (report.Dashboard, error)
	WriteTicketsCSV(ctx context.Context, w io.Writer) error
}

type Handler struct {
	queue   QueueService
	auth    Authenticator
	admin   Administrator
	reports Reporter
	logger  zerolog.Logger
	now     func() time.Time
}

type Options struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string       `json:"session_id"`
	ExpiresAt time.Time    `json:"expires_at"`
	Staff     models.Staff `json:"staff"`
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	Next    string `json:"new_password"`
	Confirm string `json:"confirm_password"`
}

type createTicketRequest struct {
	CustomerID   string `json:"customer_id"`
	ServiceID    string `json:"service_id"`
	Preferential bool   `json:"preferential"`
}

type systemResponse struct {
	Open bool `json:"open"`
}

type resetResponse struct {
	ServiceID string `json:"service_id"`
	Deleted   int64  `json:"deleted"`
}

func NewHandler(queueService QueueService, authenticator Authenticator, administrator Administrator, reports Reporter, options Options) *Handler {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		queue:   queueService,
		auth:    authenticator,
		admin:   administrator,
		reports: reports,
		logger:  options.Logger,
		now:     now,
	}
}

// Routes returns the API mux wrapped in session resolution.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/auth/password", h.handleChangePassword)
	mux.HandleFunc("/api/display", h.handleDisplay)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/panel", h.handlePanel)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/admin/services", h.handleAdminServices)
	mux.HandleFunc("/api/admin/services/", h.handleAdminService)
	mux.HandleFunc("/api/admin/staff", h.handleAdminStaff)
	mux.HandleFunc("/api/admin/staff/", h.handleAdminStaffMember)
	mux.HandleFunc("/api/admin/dashboard", h.handleDashboard)
	mux.HandleFunc("/api/admin/reports/tickets.csv", h.handleTicketsCSV)
	mux.HandleFunc("/api/admin/system", h.handleSystem)
	mux.HandleFunc("/api/admin/system/toggle", h.handleSystemToggle)
	return AuthMiddleware(h.auth, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Password == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "name and password are required")
		return
	}
	session, member, err := h.auth.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{SessionID: session.SessionID, ExpiresAt: session.ExpiresAt, Staff: member})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	if err := h.auth.Logout(r.Context(), info.SessionID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	member, ok := requireStaff(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	member, ok := requireStaff(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.auth.ChangePassword(r.Context(), member, req.Current, req.Next, req.Confirm); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	view, err := h.queue.Display(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	services, err := h.queue.Services(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handlePanel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	member, ok := requireStaff(w, r)
	if !ok {
		return
	}
	view, err := h.queue.Panel(r.Context(), member)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	member, ok := requireStaff(w, r)
	if !ok {
		return
	}
	var req createTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := h.queue.Register(r.Context(), member, queue.RegisterInput{
		CustomerID:   req.CustomerID,
		ServiceID:    strings.TrimSpace(req.ServiceID),
		Preferential: req.Preferential,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	member, ok := requireStaff(w, r)
	if !ok {
		return
	}
	ticket, found, err := h.queue.CallNext(r.Context(), member)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		writeError(w, requestIDFromRequest(r), http.StatusConflict, "queue_empty", "no tickets available")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	member, ok := requireStaff(w, r)
	if !ok {
		return
	}

	ticketID := parts[0]
	var (
		ticket models.Ticket
		err    error
	)
	switch parts[2] {
	case "recall":
		ticket, err = h.queue.Recall(r.Context(), member, ticketID)
	case "finish":
		ticket, err = h.queue.Finish(r.Context(), member, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleAdminServices(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		services, err := h.admin.ListServices(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, services)
	case http.MethodPost:
		var input admin.ServiceInput
		if !decodeRequest(w, r, &input) {
			return
		}
		service, err := h.admin.CreateService(r.Context(), input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, service)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAdminService(w http.ResponseWriter, r *http.Request) {
	member, ok := requireRole(w, r, models.RoleAdmin)
	if !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/services/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	serviceID := parts[0]
	if serviceID == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 2 {
		if parts[1] != "reset" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		deleted, err := h.queue.ResetService(r.Context(), member, serviceID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resetResponse{ServiceID: serviceID, Deleted: deleted})
		return
	}

	switch r.Method {
	case http.MethodPut:
		var input admin.ServiceInput
		if !decodeRequest(w, r, &input) {
			return
		}
		service, err := h.admin.UpdateService(r.Context(), serviceID, input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, service)
	case http.MethodDelete:
		if err := h.admin.DeleteService(r.Context(), serviceID); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAdminStaff(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		members, err := h.admin.ListStaff(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, members)
	case http.MethodPost:
		var input admin.StaffInput
		if !decodeRequest(w, r, &input) {
			return
		}
		member, err := h.admin.CreateStaff(r.Context(), input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAdminStaffMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireRole(w, r, models.RoleAdmin)
	if !ok {
		return
	}
	staffID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/admin/staff/"), "/")
	if staffID == "" || strings.Contains(staffID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var input admin.StaffInput
		if !decodeRequest(w, r, &input) {
			return
		}
		member, err := h.admin.UpdateStaff(r.Context(), staffID, input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, member)
	case http.MethodDelete:
		if err := h.admin.DeleteStaff(r.Context(), actor, staffID); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	dashboard, err := h.reports.Dashboard(r.Context(), h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) handleTicketsCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=reporte_tickets.csv")
	if err := h.reports.WriteTicketsCSV(r.Context(), w); err != nil {
		// Headers may already be on the wire.
		h.logger.Error().Err(err).Str("request_id", requestIDFromRequest(r)).Msg("write tickets csv")
	}
}

func (h *Handler) handleSystem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	open, err := h.admin.SystemOpen(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, systemResponse{Open: open})
}

func (h *Handler) handleSystemToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	open, err := h.admin.ToggleSystem(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info().Bool("open", open).Msg("system toggled")
	writeJSON(w, http.StatusOK, systemResponse{Open: open})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", requestIDFromRequest(r)).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrContention):
		return http.StatusServiceUnavailable, "system_busy", "system busy, try again"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrStaffNotFound):
		return http.StatusNotFound, "staff_not_found", "staff member not found"
	case errors.Is(err, store.ErrNotOwner):
		return http.StatusForbidden, "not_owner", "ticket is handled by another staff member"
	case errors.Is(err, queue.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, queue.ErrNoAssignment):
		return http.StatusForbidden, "no_assignment", "no service or desk assigned"
	case errors.Is(err, queue.ErrSystemClosed):
		return http.StatusForbidden, "system_closed", "the system is closed"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, try again"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "duplicate", "name or prefix already in use"
	case errors.Is(err, store.ErrServiceInUse):
		return http.StatusConflict, "service_in_use", "service still has tickets"
	case errors.Is(err, admin.ErrSelfDelete):
		return http.StatusConflict, "self_delete", "cannot delete your own account"
	case errors.Is(err, admin.ErrInvalidInput), errors.Is(err, queue.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid name or password"
	case errors.Is(err, auth.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(err, auth.ErrPasswordMismatch):
		return http.StatusBadRequest, "password_mismatch", "new password and confirmation differ"
	case errors.Is(err, auth.ErrPasswordRequired):
		return http.StatusBadRequest, "invalid_request", "password is required"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
