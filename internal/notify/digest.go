package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fotoagenda/internal/database"
	"fotoagenda/internal/models"
)

// StartDigest sends the next day's agenda to the manager chats every day at hour.
func (n *Notifier) StartDigest(ctx context.Context, hour int) {
	go func() {
		timer := time.NewTimer(n.untilNextHour(hour))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if err := n.SendDigest(ctx); err != nil {
					n.logger.Error().Err(err).Msg("Failed to send daily digest")
				}
				timer.Reset(n.untilNextHour(hour))
			}
		}
	}()
}

// SendDigest sends tomorrow's non-cancelled bookings to the manager chats.
func (n *Notifier) SendDigest(ctx context.Context) error {
	now := n.now().In(n.loc)
	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	bookings, err := n.bookings.ListBookings(ctx, database.BookingFilter{From: &tomorrow, To: &tomorrow})
	if err != nil {
		return fmt.Errorf("digest bookings: %w", err)
	}
	return n.broadcast(formatDigest(tomorrow, bookings), nil)
}

func formatDigest(day time.Time, bookings []models.Booking) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🗓 Agenda del %s\n", day.Format("02/01/2006"))

	count := 0
	for _, booking := range bookings {
		if !booking.Blocks() {
			continue
		}
		count++
		fmt.Fprintf(&b, "\n%s · %s", booking.Time, booking.ServiceName)
		if booking.PackageName != "" {
			fmt.Fprintf(&b, " (%s)", booking.PackageName)
		}
		fmt.Fprintf(&b, "\n   👤 %s · %s · %s", booking.CustomerName, booking.CustomerPhone, booking.Status.Label())
	}
	if count == 0 {
		b.WriteString("\nSin sesiones programadas.")
	}
	return b.String()
}

func (n *Notifier) untilNextHour(hour int) time.Duration {
	now := n.now().In(n.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, n.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
