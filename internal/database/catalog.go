package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fotoagenda/internal/models"
)

const serviceColumns = `id, code, name, category, description, quote_url, is_active, availability_mode,
	available_from, available_until, duration_minutes, interval_minutes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*models.Service, error) {
	var (
		s           models.Service
		mode        string
		from, until sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Category, &s.Description, &s.QuoteURL, &s.IsActive, &mode,
		&from, &until, &s.DurationMinutes, &s.IntervalMinutes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Mode = models.AvailabilityMode(mode)
	s.AvailableFrom = datePtr(from)
	s.AvailableUntil = datePtr(until)
	return &s, nil
}

// GetService returns a service by id regardless of its active flag.
func (q *Queries) GetService(ctx context.Context, id int64) (*models.Service, error) {
	s, err := scanService(q.q.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service %d: %w", id, err)
	}
	return s, nil
}

// GetServiceByCode returns a service by its stable code.
func (q *Queries) GetServiceByCode(ctx context.Context, code string) (*models.Service, error) {
	s, err := scanService(q.q.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service %s: %w", code, err)
	}
	return s, nil
}

// ListServices returns services ordered by category and name.
func (q *Queries) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY category, name`

	rows, err := q.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []models.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListWeeklyRanges returns the weekly ranges of a service on a weekday (0=Mon).
func (q *Queries) ListWeeklyRanges(ctx context.Context, serviceID int64, weekday int) ([]models.WeeklyRange, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, service_id, weekday, label, start_time, end_time, order_index
		FROM weekly_ranges
		WHERE service_id = ? AND weekday = ?
		ORDER BY order_index, start_time`, serviceID, weekday)
	if err != nil {
		return nil, fmt.Errorf("list weekly ranges: %w", err)
	}
	defer rows.Close()

	var out []models.WeeklyRange
	for rows.Next() {
		var w models.WeeklyRange
		if err := rows.Scan(&w.ID, &w.ServiceID, &w.Weekday, &w.Label, &w.StartTime, &w.EndTime, &w.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListExceptions returns the active exceptions of a service on date.
func (q *Queries) ListExceptions(ctx context.Context, serviceID int64, date time.Time) ([]models.Exception, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, service_id, date, type, range_mode, start_time, end_time, max_bookings, note, is_active, created_at
		FROM service_exceptions
		WHERE service_id = ? AND date = ? AND is_active = 1
		ORDER BY id`, serviceID, dateKey(date))
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	var out []models.Exception
	for rows.Next() {
		var (
			e             models.Exception
			day, typ, mde string
			maxBookings   sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.ServiceID, &day, &typ, &mde, &e.StartTime, &e.EndTime, &maxBookings, &e.Note, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Date, err = models.ParseDate(day); err != nil {
			return nil, fmt.Errorf("parse exception %d date: %w", e.ID, err)
		}
		e.Type = models.ExceptionType(typ)
		e.RangeMode = models.RangeMode(mde)
		e.MaxBookings = intPtr(maxBookings)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertException inserts an exception or refreshes the one with the same identity.
// created_at is kept from the first insert so capacity tie-breaks stay stable.
func (q *Queries) UpsertException(ctx context.Context, e *models.Exception) (int64, error) {
	now := q.timestamp()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO service_exceptions (service_id, date, type, range_mode, start_time, end_time, max_bookings, note, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_id, date, type, range_mode, start_time, end_time) DO UPDATE SET
			max_bookings = excluded.max_bookings,
			note = excluded.note,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		e.ServiceID, dateKey(e.Date), string(e.Type), string(e.RangeMode), e.StartTime, e.EndTime,
		nullInt(e.MaxBookings), e.Note, e.IsActive, createdAt, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert exception: %w", err)
	}

	var id int64
	err = q.q.QueryRowContext(ctx, `
		SELECT id FROM service_exceptions
		WHERE service_id = ? AND date = ? AND type = ? AND range_mode = ? AND start_time = ? AND end_time = ?`,
		e.ServiceID, dateKey(e.Date), string(e.Type), string(e.RangeMode), e.StartTime, e.EndTime,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("load exception id: %w", err)
	}
	return id, nil
}

const packageColumns = `id, service_id, name, description, price, deposit, duration_minutes, available_from,
	available_until, max_bookings, is_default, is_active, order_index`

func scanPackage(row rowScanner) (*models.Package, error) {
	var (
		p                     models.Package
		duration, maxBookings sql.NullInt64
		from, until           sql.NullString
	)
	if err := row.Scan(&p.ID, &p.ServiceID, &p.Name, &p.Description, &p.Price, &p.Deposit, &duration, &from,
		&until, &maxBookings, &p.IsDefault, &p.IsActive, &p.OrderIndex); err != nil {
		return nil, err
	}
	p.DurationMinutes = intPtr(duration)
	p.MaxBookings = intPtr(maxBookings)
	p.AvailableFrom = datePtr(from)
	p.AvailableUntil = datePtr(until)
	return &p, nil
}

// GetPackage returns a package by id regardless of its active flag.
func (q *Queries) GetPackage(ctx context.Context, id int64) (*models.Package, error) {
	p, err := scanPackage(q.q.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get package %d: %w", id, err)
	}
	return p, nil
}

// ListPackages returns the active packages of a service ordered by order_index then id.
func (q *Queries) ListPackages(ctx context.Context, serviceID int64) ([]models.Package, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+packageColumns+`
		FROM packages WHERE service_id = ? AND is_active = 1
		ORDER BY order_index, id`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []models.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DefaultPackage returns the default-flagged active package, falling back to the cheapest one.
func (q *Queries) DefaultPackage(ctx context.Context, serviceID int64) (*models.Package, error) {
	pkgs, err := q.ListPackages(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, ErrNotFound
	}

	var best *models.Package
	for i := range pkgs {
		p := &pkgs[i]
		switch {
		case best == nil:
			best = p
		case p.IsDefault && !best.IsDefault:
			best = p
		case p.IsDefault == best.IsDefault && p.Price.LessThan(best.Price):
			best = p
		}
	}
	return best, nil
}
