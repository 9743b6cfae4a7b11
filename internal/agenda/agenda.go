// Package agenda is the entry point used by the calendar page and the staff
// dashboard. It turns booking failures into Spanish messages.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fotoagenda/internal/booking"
	"fotoagenda/internal/database"
	"fotoagenda/internal/models"
)

// Bookings is the booking core the facade delegates to.
type Bookings interface {
	Context(ctx context.Context, token string) (*booking.IntentContext, error)
	IntentTimes(ctx context.Context, token, date string, packageID *int64) ([]string, error)
	ManualTimes(ctx context.Context, serviceID int64, packageID *int64, date string) ([]string, error)
	Confirm(ctx context.Context, req booking.ConfirmRequest) (*models.Booking, error)
	CreateManual(ctx context.Context, req booking.ManualRequest) (*models.Booking, error)
	UpdateStatus(ctx context.Context, id int64, to models.BookingStatus) (*models.Booking, error)
}

// Catalog reads services, packages and bookings for the dashboard.
type Catalog interface {
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	ListPackages(ctx context.Context, serviceID int64) ([]models.Package, error)
	ListBookings(ctx context.Context, f database.BookingFilter) ([]models.Booking, error)
	CountBookings(ctx context.Context, f database.BookingFilter) (int, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListUsersNeedingAttention(ctx context.Context) ([]models.User, error)
	SetNeedsAttention(ctx context.Context, userID int64, flag bool) error
}

// Agenda answers availability questions and books slots.
type Agenda struct {
	bookings Bookings
	catalog  Catalog
	perPage  int
	logger   *zerolog.Logger
}

func New(bookings Bookings, catalog Catalog, perPage int, logger *zerolog.Logger) *Agenda {
	if perPage <= 0 {
		perPage = 50
	}
	return &Agenda{bookings: bookings, catalog: catalog, perPage: perPage, logger: logger}
}

// BookingContext returns the intent, customer, service and packages behind a calendar link.
func (a *Agenda) BookingContext(ctx context.Context, token string) (*booking.IntentContext, error) {
	c, err := a.bookings.Context(ctx, token)
	return c, a.fail(err, "booking context")
}

// ListAvailableTimes returns free HH:MM start times for a calendar link on date.
func (a *Agenda) ListAvailableTimes(ctx context.Context, token, date string, packageID *int64) ([]string, error) {
	times, err := a.bookings.IntentTimes(ctx, token, date, packageID)
	return times, a.fail(err, "list available times")
}

// Confirm books a slot for a calendar link.
func (a *Agenda) Confirm(ctx context.Context, req booking.ConfirmRequest) (*models.Booking, error) {
	b, err := a.bookings.Confirm(ctx, req)
	return b, a.fail(err, "confirm booking")
}

// ManualAvailableTimes returns free start times for a staff booking.
func (a *Agenda) ManualAvailableTimes(ctx context.Context, serviceID int64, packageID *int64, date string) ([]string, error) {
	times, err := a.bookings.ManualTimes(ctx, serviceID, packageID, date)
	return times, a.fail(err, "manual available times")
}

// CreateManualBooking registers a booking from the dashboard.
func (a *Agenda) CreateManualBooking(ctx context.Context, req booking.ManualRequest) (*models.Booking, error) {
	b, err := a.bookings.CreateManual(ctx, req)
	return b, a.fail(err, "create manual booking")
}

// UpdateStatus changes the status of a booking from its status code.
func (a *Agenda) UpdateStatus(ctx context.Context, id int64, status string) (*models.Booking, error) {
	b, err := a.bookings.UpdateStatus(ctx, id, models.BookingStatus(strings.ToLower(strings.TrimSpace(status))))
	return b, a.fail(err, "update status")
}

// BookingQuery filters the dashboard listing. Dates are YYYY-MM-DD.
type BookingQuery struct {
	ServiceID int64
	Status    string
	From      string
	To        string
	Page      int
}

// BookingPage is one page of the dashboard listing.
type BookingPage struct {
	Bookings []models.Booking `json:"bookings"`
	Page     int              `json:"page"`
	PerPage  int              `json:"per_page"`
	Total    int              `json:"total"`
	Pages    int              `json:"pages"`
}

// ListBookings returns one page of bookings ordered by date and time.
func (a *Agenda) ListBookings(ctx context.Context, q BookingQuery) (*BookingPage, error) {
	f, err := filter(q)
	if err != nil {
		return nil, a.fail(err, "list bookings")
	}
	total, err := a.catalog.CountBookings(ctx, f)
	if err != nil {
		return nil, a.fail(err, "count bookings")
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	pages := (total + a.perPage - 1) / a.perPage
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		page = pages
	}
	f.Limit = a.perPage
	f.Offset = (page - 1) * a.perPage

	list, err := a.catalog.ListBookings(ctx, f)
	if err != nil {
		return nil, a.fail(err, "list bookings")
	}
	if list == nil {
		list = []models.Booking{}
	}
	return &BookingPage{Bookings: list, Page: page, PerPage: a.perPage, Total: total, Pages: pages}, nil
}

// ExportBookings returns every booking matching q without paging.
func (a *Agenda) ExportBookings(ctx context.Context, q BookingQuery) ([]models.Booking, error) {
	f, err := filter(q)
	if err != nil {
		return nil, a.fail(err, "export bookings")
	}
	list, err := a.catalog.ListBookings(ctx, f)
	return list, a.fail(err, "export bookings")
}

// CalendarEvent is a booking shaped for the dashboard calendar.
type CalendarEvent struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Status string `json:"status"`
	Label  string `json:"status_label"`
}

// Events returns calendar entries for bookings between from and to.
func (a *Agenda) Events(ctx context.Context, from, to string) ([]CalendarEvent, error) {
	list, err := a.ExportBookings(ctx, BookingQuery{From: from, To: to})
	if err != nil {
		return nil, err
	}

	out := make([]CalendarEvent, 0, len(list))
	for i := range list {
		b := &list[i]
		start, err := b.Start()
		if err != nil {
			a.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("Skipping booking with invalid time")
			continue
		}
		end, _ := b.End()
		out = append(out, CalendarEvent{
			ID:     b.ID,
			Title:  fmt.Sprintf("%s - %s", b.ServiceName, b.CustomerName),
			Start:  start.Format("2006-01-02T15:04:05"),
			End:    end.Format("2006-01-02T15:04:05"),
			Status: string(b.Status),
			Label:  b.Status.Label(),
		})
	}
	return out, nil
}

// ServiceView is a service with its active packages.
type ServiceView struct {
	models.Service
	Packages []PackageView `json:"packages"`
}

// PackageView formats package amounts for display.
type PackageView struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Price           string `json:"price"`
	Deposit         string `json:"deposit"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
	IsDefault       bool   `json:"is_default"`
}

// Services lists active services for the manual booking form.
func (a *Agenda) Services(ctx context.Context) ([]ServiceView, error) {
	svcs, err := a.catalog.ListServices(ctx, true)
	if err != nil {
		return nil, a.fail(err, "list services")
	}
	out := make([]ServiceView, 0, len(svcs))
	for _, s := range svcs {
		pkgs, err := a.catalog.ListPackages(ctx, s.ID)
		if err != nil {
			return nil, a.fail(err, "list packages")
		}
		view := ServiceView{Service: s, Packages: make([]PackageView, 0, len(pkgs))}
		for _, p := range pkgs {
			view.Packages = append(view.Packages, PackageView{
				ID:              p.ID,
				Name:            p.Name,
				Price:           p.Price.StringFixed(2),
				Deposit:         p.Deposit.StringFixed(2),
				DurationMinutes: p.DurationMinutes,
				IsDefault:       p.IsDefault,
			})
		}
		out = append(out, view)
	}
	return out, nil
}

// ParseDeposit reads an optional deposit amount typed by staff.
func ParseDeposit(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, translate(fmt.Errorf("%w: deposit %q", booking.ErrInvalidInput, s))
	}
	return &d, nil
}

func filter(q BookingQuery) (database.BookingFilter, error) {
	f := database.BookingFilter{ServiceID: q.ServiceID}
	if q.Status != "" {
		st := models.BookingStatus(strings.ToLower(q.Status))
		if !st.Valid() {
			return f, fmt.Errorf("%w: unknown status %q", booking.ErrInvalidInput, q.Status)
		}
		f.Status = st
	}
	for _, d := range []struct {
		raw string
		dst **time.Time
	}{{q.From, &f.From}, {q.To, &f.To}} {
		if d.raw == "" {
			continue
		}
		t, err := models.ParseDate(d.raw)
		if err != nil {
			return f, fmt.Errorf("%w: date %q must be YYYY-MM-DD", booking.ErrInvalidInput, d.raw)
		}
		*d.dst = &t
	}
	return f, nil
}

// fail logs unexpected errors and translates domain ones.
func (a *Agenda) fail(err error, op string) error {
	if err == nil {
		return nil
	}
	out := translate(err)
	var known *Error
	if !errors.As(out, &known) {
		a.logger.Error().Err(err).Str("op", op).Msg("Agenda operation failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	a.logger.Debug().Err(err).Str("op", op).Msg("Agenda request rejected")
	return out
}
