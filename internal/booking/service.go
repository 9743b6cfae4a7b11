// Package booking turns chosen slots into reservations. Every write re-checks
// availability inside a transaction serialized per service and date.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fotoagenda/internal/database"
	"fotoagenda/internal/events"
	"fotoagenda/internal/metrics"
	"fotoagenda/internal/models"
	"fotoagenda/internal/slots"
)

// Publisher receives booking events after commit.
type Publisher interface {
	PublishPayload(eventType string, payload any)
}

// Customer is the contact data attached to a booking.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

// ConfirmRequest books a slot for the customer behind an open intent.
type ConfirmRequest struct {
	Token     string
	Date      string
	Time      string
	PackageID *int64
	Customer  Customer
}

// ManualRequest books a slot on behalf of a customer from the dashboard.
type ManualRequest struct {
	ServiceID int64
	PackageID *int64
	Date      string
	Time      string
	Status    models.BookingStatus
	Customer  Customer
	Deposit   *decimal.Decimal
}

// Service creates and updates bookings.
type Service struct {
	db        *database.DB
	locks     *dayLocks
	loc       *time.Location
	now       func() time.Time
	allowPast bool
	publisher Publisher
	logger    *zerolog.Logger
}

// NewService creates a booking service evaluating "today" in loc.
func NewService(db *database.DB, loc *time.Location, publisher Publisher, logger *zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:        db,
		locks:     newDayLocks(),
		loc:       loc,
		now:       time.Now,
		publisher: publisher,
		logger:    logger,
	}
}

// SetClock overrides the current time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// AllowPastManual lets staff register bookings on past dates.
func (s *Service) AllowPastManual(allow bool) {
	s.allowPast = allow
}

// Today returns the current calendar date in the service location.
func (s *Service) Today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// CreateIntent opens a booking intent for a user, cancelling any other open one.
func (s *Service) CreateIntent(ctx context.Context, userID, serviceID int64, sourceOption string) (*models.BookingIntent, error) {
	intent := &models.BookingIntent{
		Token:        uuid.NewString(),
		UserID:       userID,
		ServiceID:    serviceID,
		Status:       models.IntentOpen,
		SourceOption: sourceOption,
	}

	err := s.db.InTx(ctx, func(q *database.Queries) error {
		if _, err := activeService(ctx, q, serviceID); err != nil {
			return err
		}
		pkg, err := q.DefaultPackage(ctx, serviceID)
		switch {
		case err == nil:
			intent.PackageID = &pkg.ID
		case !errors.Is(err, database.ErrNotFound):
			return err
		}

		cancelled, err := q.CancelOpenIntents(ctx, userID)
		if err != nil {
			return err
		}
		if cancelled > 0 {
			s.logger.Debug().Int64("user_id", userID).Int64("cancelled", cancelled).Msg("Superseded open intents")
		}
		return q.InsertIntent(ctx, intent)
	})
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}

	s.logger.Info().Int64("user_id", userID).Int64("service_id", serviceID).Msg("Booking intent opened")
	return intent, nil
}

// Confirm books the requested slot for the intent identified by the token and
// completes the intent.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*models.Booking, error) {
	date, clock, err := parseSlot(req.Date, req.Time)
	if err != nil {
		return nil, err
	}

	intent, err := s.openIntent(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	svc, err := activeService(ctx, s.db.Queries, intent.ServiceID)
	if err != nil {
		return nil, err
	}
	pkgID := req.PackageID
	if pkgID == nil {
		pkgID = intent.PackageID
	}
	pkg, err := resolvePackage(ctx, s.db.Queries, svc, pkgID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDate(svc, pkg, date, clock, false); err != nil {
		return nil, err
	}

	user, err := s.db.GetUser(ctx, intent.UserID)
	if err != nil {
		return nil, notFound(err, "customer")
	}
	customer := req.Customer
	if strings.TrimSpace(customer.Name) == "" {
		customer.Name = user.Name
	}
	if strings.TrimSpace(customer.Phone) == "" {
		customer.Phone = user.Phone
	}

	b := newBooking(svc, pkg, date, clock, customer)
	b.UserID = user.ID
	b.Source = models.SourceWhatsApp
	b.Status = models.StatusPending
	if pkg != nil {
		b.DepositAmount = pkg.Deposit
	}

	err = s.book(ctx, slots.Query{Service: svc, Package: pkg, Date: date}, clock, b, nil,
		func(q *database.Queries) error {
			if pkg != nil {
				if err := q.SetIntentPackage(ctx, intent.ID, pkg.ID); err != nil {
					return err
				}
			}
			if err := q.CompleteIntent(ctx, intent.ID, b.ID); err != nil {
				if errors.Is(err, database.ErrNotFound) {
					return ErrNoOpenIntent
				}
				return err
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	return s.created(ctx, b)
}

// CreateManual books a slot directly with the given status. No intent is required.
func (s *Service) CreateManual(ctx context.Context, req ManualRequest) (*models.Booking, error) {
	status := req.Status
	if status == "" {
		status = models.StatusPending
	}
	if status != models.StatusPending && status != models.StatusConfirmed && status != models.StatusDoubts {
		return nil, invalid("status %q cannot be used for a new booking", status)
	}

	customer := Customer{
		Name:  strings.TrimSpace(req.Customer.Name),
		Phone: strings.TrimSpace(req.Customer.Phone),
		Notes: strings.TrimSpace(req.Customer.Notes),
	}
	if customer.Name == "" || customer.Phone == "" {
		return nil, invalid("customer name and phone are required")
	}

	date, clock, err := parseSlot(req.Date, req.Time)
	if err != nil {
		return nil, err
	}

	svc, err := activeService(ctx, s.db.Queries, req.ServiceID)
	if err != nil {
		return nil, err
	}
	pkg, err := resolvePackage(ctx, s.db.Queries, svc, req.PackageID)
	if err != nil {
		return nil, err
	}

	deposit := decimal.Zero
	if pkg != nil {
		deposit = pkg.Deposit
	}
	if req.Deposit != nil {
		deposit = *req.Deposit
	}
	if deposit.IsNegative() {
		return nil, invalid("deposit cannot be negative")
	}
	if pkg != nil && deposit.GreaterThan(pkg.Price) {
		return nil, ErrDepositTooHigh
	}

	if err := s.checkDate(svc, pkg, date, clock, s.allowPast); err != nil {
		return nil, err
	}

	b := newBooking(svc, pkg, date, clock, customer)
	b.Source = models.SourceDashboard
	b.Status = status
	b.DepositAmount = deposit

	err = s.book(ctx, slots.Query{Service: svc, Package: pkg, Date: date}, clock, b,
		func(q *database.Queries) error {
			user, err := q.UpsertUser(ctx, customer.Phone, customer.Name)
			if err != nil {
				return err
			}
			b.UserID = user.ID
			return nil
		}, nil)
	if err != nil {
		return nil, err
	}

	return s.created(ctx, b)
}

// UpdateStatus moves a booking to a new status. Reactivating a cancelled
// booking succeeds only while its slot is still free.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to models.BookingStatus) (*models.Booking, error) {
	if !to.Valid() {
		return nil, invalid("unknown status %q", to)
	}

	current, err := s.db.GetBooking(ctx, id)
	if err != nil {
		return nil, notFound(err, "booking")
	}
	if current.Status == to {
		return current, nil
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
	}

	if reactivates(current.Status, to) {
		release := s.locks.Lock(current.ServiceID, current.Date)
		err = s.db.InTx(ctx, func(q *database.Queries) error {
			svc, err := q.GetService(ctx, current.ServiceID)
			if err != nil {
				return err
			}
			pkg, err := resolvePackage(ctx, q, svc, current.PackageID)
			if err != nil {
				return err
			}
			query := slots.Query{Service: svc, Package: pkg, Date: current.Date}
			if err := slots.NewGenerator(q).Check(ctx, query, current.Time); err != nil {
				return err
			}
			return q.UpdateBookingStatus(ctx, id, to)
		})
		release()
		err = slotError(err)
	} else {
		err = s.db.UpdateBookingStatus(ctx, id, to)
	}
	if err != nil {
		return nil, notFound(err, "booking")
	}

	updated, err := s.db.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("booking_id", id).
		Str("from", string(current.Status)).
		Str("to", string(to)).
		Msg("Booking status changed")
	metrics.IncStatusChanged(string(to))
	s.publish(events.BookingStatusChanged, updated, current.Status)
	return updated, nil
}

// FlagLatestForDoubts marks the most recent active booking of a user as doubts.
// It returns ErrNotFound when the user has no active booking.
func (s *Service) FlagLatestForDoubts(ctx context.Context, userID int64) (*models.Booking, error) {
	b, err := s.db.LatestActiveBookingForUser(ctx, userID)
	if err != nil {
		return nil, notFound(err, "active booking")
	}
	return s.UpdateStatus(ctx, b.ID, models.StatusDoubts)
}

// book validates the slot, then re-validates and inserts b under the
// (service, date) lock in one transaction. before runs ahead of the insert and
// after runs once b has an id.
func (s *Service) book(ctx context.Context, query slots.Query, clock string, b *models.Booking,
	before, after func(q *database.Queries) error,
) error {
	if err := slots.NewGenerator(s.db.Queries).Check(ctx, query, clock); err != nil {
		return slotError(err)
	}

	release := s.locks.Lock(query.Service.ID, query.Date)
	defer release()

	err := s.db.InTx(ctx, func(q *database.Queries) error {
		if err := slots.NewGenerator(q).Check(ctx, query, clock); err != nil {
			return err
		}
		if before != nil {
			if err := before(q); err != nil {
				return err
			}
		}
		if err := q.InsertBooking(ctx, b); err != nil {
			return err
		}
		if after != nil {
			return after(q)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Int64("service_id", query.Service.ID).
			Str("date", query.Date.Format(models.DateLayout)).
			Str("time", clock).
			Msg("Booking rejected")
		metrics.IncBookingRejected(rejectReason(err))
	}
	return slotError(err)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, slots.ErrSlotTaken), errors.Is(err, database.ErrDuplicate):
		return "slot_taken"
	case errors.Is(err, slots.ErrDayFull):
		return "day_full"
	case errors.Is(err, slots.ErrPackageFull):
		return "package_full"
	}
	return "error"
}

func (s *Service) created(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	stored, err := s.db.GetBooking(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("reload booking %d: %w", b.ID, err)
	}
	s.logger.Info().
		Int64("booking_id", stored.ID).
		Str("service", stored.ServiceName).
		Str("date", stored.Date.Format(models.DateLayout)).
		Str("time", stored.Time).
		Str("source", string(stored.Source)).
		Msg("Booking created")
	metrics.IncBookingCreated(string(stored.Source), string(stored.Status))
	s.publish(events.BookingCreated, stored, "")
	return stored, nil
}

func (s *Service) publish(eventType string, b *models.Booking, prev models.BookingStatus) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishPayload(eventType, events.BookingPayload{
		BookingID:     b.ID,
		ServiceName:   b.ServiceName,
		PackageName:   b.PackageName,
		Date:          b.Date.Format(models.DateLayout),
		Time:          b.Time,
		Status:        string(b.Status),
		PrevStatus:    string(prev),
		Source:        string(b.Source),
		CustomerName:  b.CustomerName,
		CustomerPhone: b.CustomerPhone,
		Deposit:       b.DepositAmount.StringFixed(2),
	})
}

// checkDate rejects dates outside the service and package windows and slots
// that already started.
func (s *Service) checkDate(svc *models.Service, pkg *models.Package, date time.Time, clock string, allowPast bool) error {
	if !allowPast {
		today := s.Today()
		if date.Before(today) {
			return ErrPastDate
		}
		if date.Equal(today) && clock <= s.now().In(s.loc).Format(models.TimeLayout) {
			return fmt.Errorf("%w: %s already passed", ErrSlotUnavailable, clock)
		}
	}
	if !svc.InWindow(date) {
		return fmt.Errorf("%w: %s is not offered on %s", ErrOutOfRange, svc.Name, date.Format(models.DateLayout))
	}
	if pkg != nil && !pkg.InWindow(date) {
		return fmt.Errorf("%w: %s is not offered on %s", ErrOutOfRange, pkg.Name, date.Format(models.DateLayout))
	}
	return nil
}

func newBooking(svc *models.Service, pkg *models.Package, date time.Time, clock string, c Customer) *models.Booking {
	query := slots.Query{Service: svc, Package: pkg, Date: date}
	b := &models.Booking{
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		Date:            date,
		Time:            clock,
		DurationMinutes: int(query.Duration() / time.Minute),
		CustomerName:    c.Name,
		CustomerPhone:   c.Phone,
		CustomerNotes:   c.Notes,
	}
	if pkg != nil {
		b.PackageID = &pkg.ID
		b.PackageName = pkg.Name
	}
	return b
}

func parseSlot(dateStr, timeStr string) (time.Time, string, error) {
	date, err := parseDate(dateStr)
	if err != nil {
		return time.Time{}, "", err
	}
	clock, err := models.ParseClock(strings.TrimSpace(timeStr))
	if err != nil {
		return time.Time{}, "", invalid("time %q must be HH:MM", timeStr)
	}
	return date, clock, nil
}

func activeService(ctx context.Context, q *database.Queries, id int64) (*models.Service, error) {
	svc, err := q.GetService(ctx, id)
	if err != nil {
		return nil, notFound(err, "service")
	}
	if !svc.IsActive {
		return nil, fmt.Errorf("%w: service %s is inactive", ErrNotFound, svc.Code)
	}
	return svc, nil
}

// resolvePackage loads the requested package, or the service default when id is nil.
// A service without packages resolves to nil.
func resolvePackage(ctx context.Context, q *database.Queries, svc *models.Service, id *int64) (*models.Package, error) {
	if id == nil {
		pkg, err := q.DefaultPackage(ctx, svc.ID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return pkg, err
	}
	pkg, err := q.GetPackage(ctx, *id)
	if err != nil {
		return nil, notFound(err, "package")
	}
	if pkg.ServiceID != svc.ID || !pkg.IsActive {
		return nil, ErrPackageMismatch
	}
	return pkg, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

// slotError maps availability failures raised inside a transaction to the
// booking error kinds.
func slotError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, slots.ErrSlotTaken), errors.Is(err, database.ErrDuplicate):
		return ErrSlotUnavailable
	case errors.Is(err, slots.ErrDayFull):
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, slots.ErrDayFull)
	case errors.Is(err, slots.ErrPackageFull):
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, slots.ErrPackageFull)
	}
	return err
}
