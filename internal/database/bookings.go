package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fotoagenda/internal/models"
)

const bookingSelect = `
	SELECT b.id, b.service_id, s.name, b.package_id, COALESCE(p.name, ''), b.user_id, b.date, b.time,
		b.duration_minutes, b.status, b.source, b.customer_name, b.customer_phone, b.customer_notes,
		b.deposit_amount, b.created_at, b.updated_at
	FROM bookings b
	JOIN services s ON s.id = b.service_id
	LEFT JOIN packages p ON p.id = b.package_id`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b            models.Booking
		packageID    sql.NullInt64
		day, st, src string
	)
	if err := row.Scan(&b.ID, &b.ServiceID, &b.ServiceName, &packageID, &b.PackageName, &b.UserID, &day, &b.Time,
		&b.DurationMinutes, &st, &src, &b.CustomerName, &b.CustomerPhone, &b.CustomerNotes,
		&b.DepositAmount, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	date, err := models.ParseDate(day)
	if err != nil {
		return nil, fmt.Errorf("parse booking %d date: %w", b.ID, err)
	}
	b.Date = date
	b.PackageID = int64Ptr(packageID)
	b.Status = models.BookingStatus(st)
	b.Source = models.BookingSource(src)
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// InsertBooking stores b and sets its id and timestamps.
func (q *Queries) InsertBooking(ctx context.Context, b *models.Booking) error {
	now := q.timestamp()
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO bookings (service_id, package_id, user_id, date, time, duration_minutes, status, source,
			customer_name, customer_phone, customer_notes, deposit_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ServiceID, nullInt64(b.PackageID), b.UserID, dateKey(b.Date), b.Time, b.DurationMinutes,
		string(b.Status), string(b.Source), b.CustomerName, b.CustomerPhone, b.CustomerNotes,
		b.DepositAmount, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("booking id: %w", err)
	}
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

// GetBooking returns a booking with its service and package names.
func (q *Queries) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := scanBooking(q.q.QueryRowContext(ctx, bookingSelect+` WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

// ListActiveBookings returns the non-cancelled bookings of a service on date.
func (q *Queries) ListActiveBookings(ctx context.Context, serviceID int64, date time.Time) ([]models.Booking, error) {
	rows, err := q.q.QueryContext(ctx, bookingSelect+`
		WHERE b.service_id = ? AND b.date = ? AND b.status != ?
		ORDER BY b.time, b.id`, serviceID, dateKey(date), string(models.StatusCancelled))
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}
	return collectBookings(rows)
}

// BookingFilter narrows dashboard listings. Zero values are ignored.
type BookingFilter struct {
	ServiceID int64
	Status    models.BookingStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (f BookingFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ServiceID > 0 {
		conds = append(conds, "b.service_id = ?")
		args = append(args, f.ServiceID)
	}
	if f.Status != "" {
		conds = append(conds, "b.status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		conds = append(conds, "b.date >= ?")
		args = append(args, dateKey(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "b.date <= ?")
		args = append(args, dateKey(*f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListBookings returns bookings matching f ordered by date and time.
func (q *Queries) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, error) {
	where, args := f.where()
	query := bookingSelect + where + ` ORDER BY b.date, b.time, b.id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return collectBookings(rows)
}

// CountBookings returns how many bookings match f, ignoring paging.
func (q *Queries) CountBookings(ctx context.Context, f BookingFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings b`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return n, nil
}

// UpdateBookingStatus sets the status of a booking.
func (q *Queries) UpdateBookingStatus(ctx context.Context, id int64, status models.BookingStatus) error {
	res, err := q.q.ExecContext(ctx, `UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), q.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update booking %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestActiveBookingForUser returns the non-cancelled booking of a user with the latest appointment.
func (q *Queries) LatestActiveBookingForUser(ctx context.Context, userID int64) (*models.Booking, error) {
	b, err := scanBooking(q.q.QueryRowContext(ctx, bookingSelect+`
		WHERE b.user_id = ? AND b.status != ?
		ORDER BY b.date DESC, b.time DESC, b.id DESC LIMIT 1`, userID, string(models.StatusCancelled)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest booking for user %d: %w", userID, err)
	}
	return b, nil
}
