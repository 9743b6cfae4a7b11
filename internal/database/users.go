package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fotoagenda/internal/models"
)

const userColumns = `id, phone, name, conversation_state, active_node, needs_attention, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u     models.User
		state string
	)
	if err := row.Scan(&u.ID, &u.Phone, &u.Name, &state, &u.ActiveNode, &u.NeedsAttention,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.State = models.ConversationState(state)
	return &u, nil
}

func (q *Queries) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUser returns a user by id.
func (q *Queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return q.getUser(ctx, "id = ?", id)
}

// GetUserByPhone returns a user by phone number.
func (q *Queries) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return q.getUser(ctx, "phone = ?", phone)
}

// UpsertUser finds a user by phone, creating it when missing. A non-empty name
// replaces the stored one.
func (q *Queries) UpsertUser(ctx context.Context, phone, name string) (*models.User, error) {
	now := q.timestamp()
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (phone, name, conversation_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			updated_at = CASE WHEN excluded.name != '' AND excluded.name != users.name THEN excluded.updated_at ELSE users.updated_at END`,
		phone, name, string(models.StateIdle), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", phone, err)
	}
	return q.GetUserByPhone(ctx, phone)
}

// SaveConversation stores the routing state of a user.
func (q *Queries) SaveConversation(ctx context.Context, userID int64, c models.Conversation) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE users SET conversation_state = ?, active_node = ?, updated_at = ? WHERE id = ?`,
		string(c.State), c.ActiveNode, q.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("save conversation for user %d: %w", userID, err)
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

// SetNeedsAttention flags or clears a chat for human follow-up.
func (q *Queries) SetNeedsAttention(ctx context.Context, userID int64, flag bool) error {
	_, err := q.q.ExecContext(ctx, `UPDATE users SET needs_attention = ?, updated_at = ? WHERE id = ?`,
		flag, q.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("set needs attention for user %d: %w", userID, err)
	}
	return nil
}

// ListUsersNeedingAttention returns users flagged for human follow-up, most recent first.
func (q *Queries) ListUsersNeedingAttention(ctx context.Context) ([]models.User, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE needs_attention = 1 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users needing attention: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}
