package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qms/walkin-queue/internal/admin"
	"qms/walkin-queue/internal/auth"
	"qms/walkin-queue/internal/hub"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/report"
	"qms/walkin-queue/internal/store"
	"qms/walkin-queue/internal/store/memstore"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type apiFixture struct {
	store   *memstore.Store
	routes  http.Handler
	service models.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	service, err := st.CreateService(ctx, models.Service{Name: "Enrollment", Prefix: "M", Color: "#000000"})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	authService := auth.NewService(st, auth.Options{BcryptCost: bcrypt.MinCost})
	deskOne, deskTwo := 1, 2
	members := []models.Staff{
		{Name: "registrar", Role: models.RoleRegistrar},
		{Name: "desk1", Role: models.RoleStaff, ServiceName: "Enrollment", DeskNumber: &deskOne},
		{Name: "desk2", Role: models.RoleStaff, ServiceName: "Enrollment", DeskNumber: &deskTwo},
		{Name: "boss", Role: models.RoleAdmin},
	}
	for _, member := range members {
		hash, err := authService.HashPassword("secret")
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		member.PasswordHash = hash
		if _, err := st.CreateStaff(ctx, member); err != nil {
			t.Fatalf("create staff %s: %v", member.Name, err)
		}
	}

	logger := zerolog.Nop()
	queueService := queue.NewService(st, hub.New(logger), logger, queue.Options{})
	handler := NewHandler(
		queueService,
		authService,
		admin.NewService(st, authService),
		report.NewReporter(st, time.UTC),
		Options{Logger: logger},
	)
	return &apiFixture{store: st, routes: handler.Routes(), service: service}
}

func (f *apiFixture) do(t *testing.T, method, path, sessionID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Authorization", "Bearer "+sessionID)
	}
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(t *testing.T, name string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Name: name, Password: "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", name, rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.SessionID
}

func decodeTicket(t *testing.T, rec *httptest.ResponseRecorder) models.Ticket {
	t.Helper()
	var ticket models.Ticket
	if err := json.NewDecoder(rec.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	return ticket
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp.Error.Code
}

func TestRegisterCallFinishFlow(t *testing.T) {
	f := newAPIFixture(t)
	registrar := f.login(t, "registrar")
	desk := f.login(t, "desk1")

	rec := f.do(t, http.MethodPost, "/api/tickets", registrar, createTicketRequest{CustomerID: "11111111-1", ServiceID: f.service.ServiceID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	registered := decodeTicket(t, rec)
	if registered.Label != "M-A00" || registered.State != models.StateWaiting {
		t.Fatalf("unexpected ticket: %+v", registered)
	}

	rec = f.do(t, http.MethodPost, "/api/tickets/actions/call-next", desk, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("call-next: %d %s", rec.Code, rec.Body.String())
	}
	called := decodeTicket(t, rec)
	if called.TicketID != registered.TicketID || called.State != models.StateInService {
		t.Fatalf("unexpected call: %+v", called)
	}
	if called.DeskNumber == nil || *called.DeskNumber != 1 {
		t.Fatalf("expected desk 1, got %v", called.DeskNumber)
	}

	rec = f.do(t, http.MethodPost, "/api/tickets/"+called.TicketID+"/actions/recall", desk, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recall: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/tickets/"+called.TicketID+"/actions/finish", desk, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("finish: %d %s", rec.Code, rec.Body.String())
	}
	if finished := decodeTicket(t, rec); finished.State != models.StateDone {
		t.Fatalf("expected done, got %s", finished.State)
	}

	rec = f.do(t, http.MethodPost, "/api/tickets/actions/call-next", desk, nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "queue_empty" {
		t.Fatalf("expected queue_empty, got %d", rec.Code)
	}
}

func TestFinishByAnotherDeskIsForbidden(t *testing.T) {
	f := newAPIFixture(t)
	registrar := f.login(t, "registrar")
	deskOne := f.login(t, "desk1")
	deskTwo := f.login(t, "desk2")

	f.do(t, http.MethodPost, "/api/tickets", registrar, createTicketRequest{CustomerID: "1-9", ServiceID: f.service.ServiceID})
	called := decodeTicket(t, f.do(t, http.MethodPost, "/api/tickets/actions/call-next", deskOne, nil))

	rec := f.do(t, http.MethodPost, "/api/tickets/"+called.TicketID+"/actions/finish", deskTwo, nil)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "not_owner" {
		t.Fatalf("expected not_owner, got %d", rec.Code)
	}
}

func TestSessionRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/panel", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/panel", "not-a-session", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown session, got %d", rec.Code)
	}

	session := f.login(t, "desk1")
	if rec := f.do(t, http.MethodPost, "/api/auth/logout", session, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/panel", session, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestPublicEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/healthz", "/api/display", "/api/services"} {
		if rec := f.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Name: "desk1", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d", rec.Code)
	}
}

func TestRoleEnforcement(t *testing.T) {
	f := newAPIFixture(t)
	desk := f.login(t, "desk1")
	registrar := f.login(t, "registrar")

	cases := []struct {
		name    string
		method  string
		path    string
		session string
		body    interface{}
	}{
		{"staff cannot register", http.MethodPost, "/api/tickets", desk, createTicketRequest{CustomerID: "1", ServiceID: f.service.ServiceID}},
		{"registrar cannot call", http.MethodPost, "/api/tickets/actions/call-next", registrar, nil},
		{"staff cannot administer", http.MethodGet, "/api/admin/services", desk, nil},
		{"registrar cannot reset", http.MethodPost, "/api/admin/services/" + f.service.ServiceID + "/reset", registrar, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.session, tc.body)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSystemClosedBlocksQueueOperations(t *testing.T) {
	f := newAPIFixture(t)
	boss := f.login(t, "boss")
	registrar := f.login(t, "registrar")

	rec := f.do(t, http.MethodPost, "/api/admin/system/toggle", boss, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: %d", rec.Code)
	}
	var state systemResponse
	_ = json.NewDecoder(rec.Body).Decode(&state)
	if state.Open {
		t.Fatalf("expected system closed after toggle")
	}

	rec = f.do(t, http.MethodPost, "/api/tickets", registrar, createTicketRequest{CustomerID: "1", ServiceID: f.service.ServiceID})
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "system_closed" {
		t.Fatalf("expected system_closed, got %d", rec.Code)
	}
}

func TestAdminServiceLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	boss := f.login(t, "boss")
	registrar := f.login(t, "registrar")

	rec := f.do(t, http.MethodPost, "/api/admin/services", boss, admin.ServiceInput{Name: "Wellbeing", Prefix: "b", Color: "#CF142B"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created models.Service
	_ = json.NewDecoder(rec.Body).Decode(&created)
	if created.Prefix != "B" {
		t.Fatalf("expected upper-cased prefix, got %q", created.Prefix)
	}

	rec = f.do(t, http.MethodPost, "/api/admin/services", boss, admin.ServiceInput{Name: "wellbeing", Prefix: "W", Color: "#000000"})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "duplicate" {
		t.Fatalf("expected duplicate, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/admin/services", boss, admin.ServiceInput{Name: "Bad", Prefix: "1", Color: "red"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid input, got %d", rec.Code)
	}

	f.do(t, http.MethodPost, "/api/tickets", registrar, createTicketRequest{CustomerID: "1", ServiceID: created.ServiceID})
	rec = f.do(t, http.MethodDelete, "/api/admin/services/"+created.ServiceID, boss, nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "service_in_use" {
		t.Fatalf("expected service_in_use, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/admin/services/"+created.ServiceID+"/reset", boss, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: %d %s", rec.Code, rec.Body.String())
	}
	var reset resetResponse
	_ = json.NewDecoder(rec.Body).Decode(&reset)
	if reset.Deleted != 1 {
		t.Fatalf("expected 1 deleted ticket, got %d", reset.Deleted)
	}

	rec = f.do(t, http.MethodDelete, "/api/admin/services/"+created.ServiceID, boss, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminCannotDeleteSelf(t *testing.T) {
	f := newAPIFixture(t)
	boss := f.login(t, "boss")
	me := f.do(t, http.MethodGet, "/api/auth/me", boss, nil)
	var member models.Staff
	_ = json.NewDecoder(me.Body).Decode(&member)

	rec := f.do(t, http.MethodDelete, "/api/admin/staff/"+member.StaffID, boss, nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "self_delete" {
		t.Fatalf("expected self_delete, got %d", rec.Code)
	}
}

func TestTicketsCSVDownload(t *testing.T) {
	f := newAPIFixture(t)
	boss := f.login(t, "boss")
	registrar := f.login(t, "registrar")
	f.do(t, http.MethodPost, "/api/tickets", registrar, createTicketRequest{CustomerID: "1", ServiceID: f.service.ServiceID})

	rec := f.do(t, http.MethodGet, "/api/admin/reports/tickets.csv", boss, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv: %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "reporte_tickets.csv") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if !strings.Contains(rec.Body.String(), "M-A00") {
		t.Fatalf("expected ticket label in csv, got %q", rec.Body.String())
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"name":"desk1","password":"secret","extra":1}`))
	rec := httptest.NewRecorder()
	f.routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_json" {
		t.Fatalf("expected invalid_json, got %d", rec.Code)
	}
}

type fakeQueue struct {
	callNextFn func(ctx context.Context, actor models.Staff) (models.Ticket, bool, error)
}

func (f fakeQueue) Register(ctx context.Context, actor models.Staff, input queue.RegisterInput) (models.Ticket, error) {
	return models.Ticket{}, nil
}

func (f fakeQueue) CallNext(ctx context.Context, actor models.Staff) (models.Ticket, bool, error) {
	if f.callNextFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.callNextFn(ctx, actor)
}

func (f fakeQueue) Recall(ctx context.Context, actor models.Staff, ticketID string) (models.Ticket, error) {
	return models.Ticket{}, nil
}

func (f fakeQueue) Finish(ctx context.Context, actor models.Staff, ticketID string) (models.Ticket, error) {
	return models.Ticket{}, nil
}

func (f fakeQueue) ResetService(ctx context.Context, actor models.Staff, serviceID string) (int64, error) {
	return 0, nil
}

func (f fakeQueue) Display(ctx context.Context) (queue.DisplayView, error) {
	return queue.DisplayView{}, nil
}

func (f fakeQueue) Panel(ctx context.Context, actor models.Staff) (queue.PanelView, error) {
	return queue.PanelView{}, nil
}

func (f fakeQueue) Services(ctx context.Context) ([]models.Service, error) {
	return nil, nil
}

type fakeResolver struct {
	member models.Staff
	err    error
}

func (f fakeResolver) Login(ctx context.Context, name, password string) (models.Session, models.Staff, error) {
	return models.Session{}, models.Staff{}, auth.ErrInvalidCredentials
}

func (f fakeResolver) Logout(ctx context.Context, sessionID string) error { return nil }

func (f fakeResolver) Resolve(ctx context.Context, sessionID string) (models.Staff, error) {
	return f.member, f.err
}

func (f fakeResolver) ChangePassword(ctx context.Context, member models.Staff, current, next, confirm string) error {
	return nil
}

func TestCallNextContentionIsRetryable(t *testing.T) {
	desk := 3
	member := models.Staff{StaffID: "s1", Role: models.RoleStaff, ServiceName: "Enrollment", DeskNumber: &desk}
	handler := NewHandler(fakeQueue{
		callNextFn: func(ctx context.Context, actor models.Staff) (models.Ticket, bool, error) {
			return models.Ticket{}, false, fmt.Errorf("claim: %w", queue.ErrContention)
		},
	}, fakeResolver{member: member}, nil, nil, Options{Logger: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/actions/call-next", nil)
	req.Header.Set("X-Session-ID", "abc")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RequestID != "req-1" || resp.Error.Code != "system_busy" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestResolverFailureIsInternal(t *testing.T) {
	handler := NewHandler(fakeQueue{}, fakeResolver{err: errors.New("db down")}, nil, nil, Options{Logger: zerolog.Nop()})
	req := httptest.NewRequest(http.MethodGet, "/api/panel", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{queue.ErrContention, http.StatusServiceUnavailable, "system_busy"},
		{fmt.Errorf("wrap: %w", store.ErrTicketNotFound), http.StatusNotFound, "ticket_not_found"},
		{store.ErrServiceNotFound, http.StatusNotFound, "service_not_found"},
		{store.ErrNotOwner, http.StatusForbidden, "not_owner"},
		{store.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{queue.ErrNoAssignment, http.StatusForbidden, "no_assignment"},
		{queue.ErrSystemClosed, http.StatusForbidden, "system_closed"},
		{auth.ErrPasswordMismatch, http.StatusBadRequest, "password_mismatch"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, code, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("%v: got %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearer a b": "",
		"Bearer":     "",
	}
	for header, want := range cases {
		if got := bearerToken(header); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
