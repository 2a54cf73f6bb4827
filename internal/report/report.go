// Package report derives read-only summaries from the ticket store: the admin
// dashboard and the CSV export.
package report

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"qms/walkin-queue/internal/models"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	firstChartHour  = 8
	lastChartHour   = 18
	utf8BOM         = "\ufeff"
)

var csvHeader = []string{
	"ID Ticket", "Numero Ticket", "RUT Cliente", "Modulo Solicitado", "Estado",
	"Hora Registro", "Hora Llamado", "Hora Finalizado", "Atendido Por", "Numero Meson",
}

type Store interface {
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	ListStaff(ctx context.Context) ([]models.Staff, error)
}

type ServiceCount struct {
	ServiceName string `json:"service_name"`
	Color       string `json:"color"`
	Count       int    `json:"count"`
}

type HourCount struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

type Dashboard struct {
	Day                string         `json:"day"`
	RegisteredToday    int            `json:"registered_today"`
	Waiting            int            `json:"waiting"`
	InService          int            `json:"in_service"`
	FinishedToday      int            `json:"finished_today"`
	AverageWaitMinutes int            `json:"average_wait_minutes"`
	PerService         []ServiceCount `json:"per_service"`
	PerHour            []HourCount    `json:"per_hour"`
}

type Reporter struct {
	store    Store
	location *time.Location
}

func NewReporter(st Store, location *time.Location) *Reporter {
	if location == nil {
		location = time.UTC
	}
	return &Reporter{store: st, location: location}
}

// Dashboard summarises the local calendar day containing day. Waiting and in
// service counts are not limited to that day.
func (r *Reporter) Dashboard(ctx context.Context, day time.Time) (Dashboard, error) {
	tickets, err := r.store.ListTickets(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	local := day.In(r.location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.location)
	end := start.AddDate(0, 0, 1)
	dash := Dashboard{Day: start.Format("2006-01-02")}

	perHour := make(map[int]int)
	perService := make(map[string]int)
	var waitTotal time.Duration
	var waitCount int

	for _, t := range tickets {
		perService[t.ServiceID]++
		switch t.State {
		case models.StateWaiting:
			dash.Waiting++
		case models.StateInService:
			dash.InService++
		}

		registered := t.RegisteredAt.In(r.location)
		if registered.Before(start) || !registered.Before(end) {
			continue
		}
		dash.RegisteredToday++
		perHour[registered.Hour()]++
		if t.State == models.StateDone {
			dash.FinishedToday++
		}
		if t.CalledAt != nil {
			waitTotal += t.CalledAt.Sub(t.RegisteredAt)
			waitCount++
		}
	}

	if waitCount > 0 {
		dash.AverageWaitMinutes = int((waitTotal / time.Duration(waitCount)) / time.Minute)
	}
	dash.PerService = make([]ServiceCount, 0, len(services))
	for _, svc := range services {
		dash.PerService = append(dash.PerService, ServiceCount{ServiceName: svc.Name, Color: svc.Color, Count: perService[svc.ServiceID]})
	}
	dash.PerHour = make([]HourCount, 0, lastChartHour-firstChartHour+1)
	for hour := firstChartHour; hour <= lastChartHour; hour++ {
		dash.PerHour = append(dash.PerHour, HourCount{Hour: twoDigits(hour), Count: perHour[hour]})
	}
	return dash, nil
}

// WriteTicketsCSV writes every ticket, oldest first, prefixed with a UTF-8
// byte order mark so spreadsheet tools pick the right encoding.
func (r *Reporter) WriteTicketsCSV(ctx context.Context, w io.Writer) error {
	tickets, err := r.store.ListTickets(ctx)
	if err != nil {
		return err
	}
	staff, err := r.store.ListStaff(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(staff))
	for _, member := range staff {
		names[member.StaffID] = member.Name
	}

	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range tickets {
		var servedBy, desk string
		if t.ClaimedBy != nil {
			servedBy = names[*t.ClaimedBy]
		}
		if t.DeskNumber != nil {
			desk = strconv.Itoa(*t.DeskNumber)
		}
		record := []string{
			t.TicketID,
			t.Label,
			t.CustomerID,
			t.ServiceName,
			t.State,
			r.format(&t.RegisteredAt),
			r.format(t.CalledAt),
			r.format(t.FinishedAt),
			servedBy,
			desk,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (r *Reporter) format(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.In(r.location).Format(timestampLayout)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
