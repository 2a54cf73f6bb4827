package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
	"qms/walkin-queue/internal/store/memstore"
)

var santiago = time.FixedZone("CLT", -3*60*60)

type seeded struct {
	st      *memstore.Store
	service models.Service
	staff   models.Staff
}

func seed(t *testing.T) seeded {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	svc, err := st.CreateService(ctx, models.Service{Name: "Enrollment", Prefix: "M", Color: "#000000"})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if _, err := st.CreateService(ctx, models.Service{Name: "Welfare", Prefix: "B", Color: "#CF142B"}); err != nil {
		t.Fatalf("create service: %v", err)
	}
	desk := 4
	member, err := st.CreateStaff(ctx, models.Staff{Name: "ana", Role: models.RoleStaff, ServiceName: "Enrollment", DeskNumber: &desk})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	return seeded{st: st, service: svc, staff: member}
}

func (s seeded) issue(t *testing.T, number int, at time.Time) models.Ticket {
	t.Helper()
	ticket, err := s.st.IssueTicket(context.Background(), store.IssueTicketInput{
		ServiceID:      s.service.ServiceID,
		ExpectedLetter: "A",
		ExpectedNumber: number,
		NextLetter:     "A",
		NextNumber:     number + 1,
		Ticket:         models.Ticket{Label: "M-A0" + string(rune('0'+number)), CustomerID: "12345678-9", RegisteredAt: at},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return ticket
}

func (s seeded) claim(t *testing.T, ticket models.Ticket, at time.Time) {
	t.Helper()
	if _, err := s.st.ConditionalClaim(context.Background(), store.ClaimInput{
		TicketID:      ticket.TicketID,
		ExpectedState: models.StateWaiting,
		StaffID:       s.staff.StaffID,
		DeskNumber:    *s.staff.DeskNumber,
		CalledAt:      at,
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestDashboard(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, santiago)

	yesterday := s.issue(t, 0, day.Add(-2*time.Hour))
	first := s.issue(t, 1, day.Add(9*time.Hour))
	second := s.issue(t, 2, day.Add(9*time.Hour+30*time.Minute))
	s.issue(t, 3, day.Add(14*time.Hour))

	s.claim(t, yesterday, day.Add(-time.Hour))
	s.claim(t, first, day.Add(9*time.Hour+10*time.Minute))
	if _, err := s.st.FinishTicket(ctx, first.TicketID, s.staff.StaffID, day.Add(9*time.Hour+20*time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	s.claim(t, second, day.Add(9*time.Hour+35*time.Minute))

	reporter := NewReporter(s.st, santiago)
	dash, err := reporter.Dashboard(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}

	if dash.Day != "2024-03-01" {
		t.Fatalf("unexpected day %s", dash.Day)
	}
	if dash.RegisteredToday != 3 || dash.Waiting != 1 || dash.InService != 2 || dash.FinishedToday != 1 {
		t.Fatalf("unexpected counters: %+v", dash)
	}
	if dash.AverageWaitMinutes != 7 {
		t.Fatalf("expected 7 minute average wait, got %d", dash.AverageWaitMinutes)
	}
	if len(dash.PerHour) != 11 || dash.PerHour[0].Hour != "08" || dash.PerHour[10].Hour != "18" {
		t.Fatalf("unexpected hour buckets: %+v", dash.PerHour)
	}
	if dash.PerHour[1].Count != 2 || dash.PerHour[6].Count != 1 {
		t.Fatalf("unexpected hour counts: %+v", dash.PerHour)
	}
	if len(dash.PerService) != 2 {
		t.Fatalf("expected 2 services, got %d", len(dash.PerService))
	}
	for _, sc := range dash.PerService {
		switch sc.ServiceName {
		case "Enrollment":
			if sc.Count != 4 || sc.Color != "#000000" {
				t.Fatalf("unexpected enrollment count: %+v", sc)
			}
		case "Welfare":
			if sc.Count != 0 {
				t.Fatalf("unexpected welfare count: %+v", sc)
			}
		}
	}
}

func TestWriteTicketsCSV(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	registered := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ticket := s.issue(t, 0, registered)
	s.issue(t, 1, registered.Add(time.Minute))
	s.claim(t, ticket, registered.Add(5*time.Minute))

	var buf bytes.Buffer
	if err := NewReporter(s.st, santiago).WriteTicketsCSV(ctx, &buf); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "\ufeff") {
		t.Fatalf("expected BOM prefix")
	}
	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\ufeff"))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	if records[0][0] != "ID Ticket" || records[0][9] != "Numero Meson" {
		t.Fatalf("unexpected header: %v", records[0])
	}

	row := records[1]
	if row[1] != "M-A00" || row[4] != models.StateInService {
		t.Fatalf("unexpected row: %v", row)
	}
	if row[5] != "2024-03-01 09:00:00" || row[6] != "2024-03-01 09:05:00" || row[7] != "" {
		t.Fatalf("unexpected timestamps: %v", row[5:8])
	}
	if row[8] != "ana" || row[9] != "4" {
		t.Fatalf("unexpected staff columns: %v", row[8:])
	}
	if records[2][8] != "" || records[2][9] != "" {
		t.Fatalf("waiting ticket should have empty staff columns: %v", records[2])
	}
}
