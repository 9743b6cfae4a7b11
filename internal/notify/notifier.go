// Package notify forwards booking activity to the studio's Telegram chats.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"fotoagenda/internal/database"
	"fotoagenda/internal/events"
	"fotoagenda/internal/models"
)

// TelegramSender is satisfied by *tgbotapi.BotAPI.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BookingLister returns bookings for the daily digest.
type BookingLister interface {
	ListBookings(ctx context.Context, f database.BookingFilter) ([]models.Booking, error)
}

// Notifier sends manager notifications to every configured chat.
type Notifier struct {
	sender       TelegramSender
	chats        []int64
	dashboardURL string
	bookings     BookingLister
	loc          *time.Location
	now          func() time.Time
	logger       *zerolog.Logger
}

func NewNotifier(sender TelegramSender, chats []int64, dashboardURL string, bookings BookingLister,
	loc *time.Location, logger *zerolog.Logger,
) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{
		sender:       sender,
		chats:        chats,
		dashboardURL: strings.TrimRight(dashboardURL, "/"),
		bookings:     bookings,
		loc:          loc,
		now:          time.Now,
		logger:       logger,
	}
}

// Subscribe registers the notifier on the bus.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.BookingCreated, n.onBookingCreated)
	bus.Subscribe(events.BookingStatusChanged, n.onStatusChanged)
	bus.Subscribe(events.ChatNeedsAttention, n.onNeedsAttention)
}

func (n *Notifier) onBookingCreated(e events.Event) error {
	var p events.BookingPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	return n.broadcast(formatCreated(p), n.bookingButton(p.BookingID))
}

func (n *Notifier) onStatusChanged(e events.Event) error {
	var p events.BookingPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	text := fmt.Sprintf("🔄 Reserva #%d: %s → %s\n👤 %s\n📅 %s %s",
		p.BookingID,
		models.BookingStatus(p.PrevStatus).Label(),
		models.BookingStatus(p.Status).Label(),
		p.CustomerName, p.Date, p.Time)
	return n.broadcast(text, n.bookingButton(p.BookingID))
}

func (n *Notifier) onNeedsAttention(e events.Event) error {
	var p events.AttentionPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("🙋 Un cliente pidió ayuda\n")
	fmt.Fprintf(&b, "👤 %s (%s)\n", fallback(p.Name, "Sin nombre"), p.Phone)
	if p.Text != "" {
		fmt.Fprintf(&b, "💬 %s\n", p.Text)
	}
	if p.BookingID > 0 {
		fmt.Fprintf(&b, "📌 Reserva #%d marcada con dudas", p.BookingID)
	}
	return n.broadcast(strings.TrimSpace(b.String()), nil)
}

func (n *Notifier) bookingButton(id int64) *tgbotapi.InlineKeyboardMarkup {
	if n.dashboardURL == "" || id == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL("Ver en el panel", fmt.Sprintf("%s/dashboard/bookings/%d", n.dashboardURL, id)),
	))
	return &markup
}

func (n *Notifier) broadcast(text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	var firstErr error
	for _, chatID := range n.chats {
		msg := tgbotapi.NewMessage(chatID, text)
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to notify manager chat")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func formatCreated(p events.BookingPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📸 Nueva reserva #%d (%s)\n", p.BookingID, models.BookingStatus(p.Status).Label())
	fmt.Fprintf(&b, "🎞 %s", p.ServiceName)
	if p.PackageName != "" {
		fmt.Fprintf(&b, " · %s", p.PackageName)
	}
	fmt.Fprintf(&b, "\n📅 %s %s\n", p.Date, p.Time)
	fmt.Fprintf(&b, "👤 %s (%s)\n", p.CustomerName, p.CustomerPhone)
	if p.Deposit != "" {
		fmt.Fprintf(&b, "💵 Anticipo: $%s\n", p.Deposit)
	}
	origin := "WhatsApp"
	if p.Source == string(models.SourceDashboard) {
		origin = "panel"
	}
	fmt.Fprintf(&b, "Origen: %s", origin)
	return b.String()
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
