package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fotoagenda/internal/models"
)

const intentColumns = `id, token, user_id, service_id, package_id, status, source_option, booking_id, created_at, updated_at`

func scanIntent(row rowScanner) (*models.BookingIntent, error) {
	var (
		it                   models.BookingIntent
		packageID, bookingID sql.NullInt64
		status               string
	)
	if err := row.Scan(&it.ID, &it.Token, &it.UserID, &it.ServiceID, &packageID, &status, &it.SourceOption,
		&bookingID, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	it.PackageID = int64Ptr(packageID)
	it.BookingID = int64Ptr(bookingID)
	it.Status = models.IntentStatus(status)
	return &it, nil
}

// CancelOpenIntents cancels every open intent of a user and returns how many were cancelled.
func (q *Queries) CancelOpenIntents(ctx context.Context, userID int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE booking_intents SET status = ?, updated_at = ?
		WHERE user_id = ? AND status = ?`,
		string(models.IntentCancelled), q.timestamp(), userID, string(models.IntentOpen))
	if err != nil {
		return 0, fmt.Errorf("cancel open intents: %w", err)
	}
	return res.RowsAffected()
}

// InsertIntent stores a new intent and sets its id and timestamps.
func (q *Queries) InsertIntent(ctx context.Context, it *models.BookingIntent) error {
	now := q.timestamp()
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO booking_intents (token, user_id, service_id, package_id, status, source_option, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.Token, it.UserID, it.ServiceID, nullInt64(it.PackageID), string(it.Status), it.SourceOption, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert intent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("intent id: %w", err)
	}
	it.ID = id
	it.CreatedAt = now
	it.UpdatedAt = now
	return nil
}

// GetIntentByToken returns an intent by its token.
func (q *Queries) GetIntentByToken(ctx context.Context, token string) (*models.BookingIntent, error) {
	it, err := scanIntent(q.q.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM booking_intents WHERE token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return it, nil
}

// OpenIntentForUser returns the open intent of a user.
func (q *Queries) OpenIntentForUser(ctx context.Context, userID int64) (*models.BookingIntent, error) {
	it, err := scanIntent(q.q.QueryRowContext(ctx, `
		SELECT `+intentColumns+` FROM booking_intents
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, userID, string(models.IntentOpen)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open intent for user %d: %w", userID, err)
	}
	return it, nil
}

// CompleteIntent marks an open intent completed and links it to a booking.
func (q *Queries) CompleteIntent(ctx context.Context, intentID, bookingID int64) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE booking_intents SET status = ?, booking_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.IntentCompleted), bookingID, q.timestamp(), intentID, string(models.IntentOpen))
	if err != nil {
		return fmt.Errorf("complete intent %d: %w", intentID, err)
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

// SetIntentPackage records the package the customer picked on the calendar page.
func (q *Queries) SetIntentPackage(ctx context.Context, intentID, packageID int64) error {
	_, err := q.q.ExecContext(ctx, `UPDATE booking_intents SET package_id = ?, updated_at = ? WHERE id = ?`,
		packageID, q.timestamp(), intentID)
	if err != nil {
		return fmt.Errorf("set intent %d package: %w", intentID, err)
	}
	return nil
}
