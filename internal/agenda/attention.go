package agenda

import (
	"context"
	"errors"
	"fmt"

	"fotoagenda/internal/booking"
	"fotoagenda/internal/database"
	"fotoagenda/internal/models"
)

// AttentionChats lists customers whose chat was escalated to staff.
func (a *Agenda) AttentionChats(ctx context.Context) ([]models.User, error) {
	users, err := a.catalog.ListUsersNeedingAttention(ctx)
	if err != nil {
		return nil, a.fail(err, "list attention chats")
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

// ResolveAttention clears the escalation flag of a customer chat.
func (a *Agenda) ResolveAttention(ctx context.Context, userID int64) (*models.User, error) {
	u, err := a.catalog.GetUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, a.fail(fmt.Errorf("%w: customer %d", booking.ErrNotFound, userID), "resolve attention")
	}
	if err != nil {
		return nil, a.fail(err, "resolve attention")
	}
	if !u.NeedsAttention {
		return u, nil
	}
	if err := a.catalog.SetNeedsAttention(ctx, userID, false); err != nil {
		return nil, a.fail(err, "resolve attention")
	}
	u.NeedsAttention = false
	a.logger.Info().Int64("user_id", userID).Msg("Chat marked resolved")
	return u, nil
}
