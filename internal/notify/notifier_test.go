package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotoagenda/internal/database"
	"fotoagenda/internal/events"
	"fotoagenda/internal/models"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	fail map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	if f.fail[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("chat not found")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

type fakeLister struct {
	filter   database.BookingFilter
	bookings []models.Booking
}

func (f *fakeLister) ListBookings(_ context.Context, filter database.BookingFilter) ([]models.Booking, error) {
	f.filter = filter
	return f.bookings, nil
}

func TestNotifier_BookingCreated(t *testing.T) {
	logger := zerolog.Nop()
	sender := &fakeSender{fail: map[int64]bool{-3: true}}
	n := NewNotifier(sender, []int64{-1, -2, -3}, "https://agenda.example.com/", nil, time.UTC, &logger)
	bus := events.NewEventBus(&logger)
	n.Subscribe(bus)

	bus.PublishPayload(events.BookingCreated, events.BookingPayload{
		BookingID: 42, ServiceName: "Boda", PackageName: "Basico", Date: "2026-10-19", Time: "10:00",
		Status: "pending", Source: "whatsapp", CustomerName: "Ana", CustomerPhone: "5215550000", Deposit: "500.00",
	})

	require.Len(t, sender.sent, 2)
	msg := sender.sent[0]
	assert.Contains(t, msg.Text, "Nueva reserva #42 (Pendiente)")
	assert.Contains(t, msg.Text, "Boda · Basico")
	assert.Contains(t, msg.Text, "Anticipo: $500.00")
	assert.Contains(t, msg.Text, "Origen: WhatsApp")

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, markup.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://agenda.example.com/dashboard/bookings/42", *markup.InlineKeyboard[0][0].URL)
}

func TestNotifier_StatusAndAttention(t *testing.T) {
	logger := zerolog.Nop()
	sender := &fakeSender{}
	n := NewNotifier(sender, []int64{-1}, "", nil, time.UTC, &logger)
	bus := events.NewEventBus(&logger)
	n.Subscribe(bus)

	bus.PublishPayload(events.BookingStatusChanged, events.BookingPayload{
		BookingID: 7, Status: "confirmed", PrevStatus: "pending", CustomerName: "Ana", Date: "2026-10-19", Time: "10:00",
	})
	bus.PublishPayload(events.ChatNeedsAttention, events.AttentionPayload{Phone: "5215550000", Text: "tengo dudas", BookingID: 7})

	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[0].Text, "Pendiente → Confirmada")
	assert.Nil(t, sender.sent[0].ReplyMarkup, "no dashboard URL configured")
	assert.Contains(t, sender.sent[1].Text, "Sin nombre (5215550000)")
	assert.Contains(t, sender.sent[1].Text, "Reserva #7 marcada con dudas")
}

func TestNotifier_SendDigest(t *testing.T) {
	logger := zerolog.Nop()
	sender := &fakeSender{}
	lister := &fakeLister{bookings: []models.Booking{
		{Time: "10:00", ServiceName: "Boda", CustomerName: "Ana", CustomerPhone: "1", Status: models.StatusConfirmed},
		{Time: "12:00", ServiceName: "XV", CustomerName: "Luis", CustomerPhone: "2", Status: models.StatusCancelled},
	}}
	n := NewNotifier(sender, []int64{-1}, "", lister, time.UTC, &logger)
	n.now = func() time.Time { return time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC) }

	require.NoError(t, n.SendDigest(context.Background()))

	require.NotNil(t, lister.filter.From)
	assert.Equal(t, "2026-10-19", lister.filter.From.Format(models.DateLayout))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "Agenda del 19/10/2026")
	assert.Contains(t, sender.sent[0].Text, "10:00 · Boda")
	assert.NotContains(t, sender.sent[0].Text, "Luis")

	lister.bookings = nil
	require.NoError(t, n.SendDigest(context.Background()))
	assert.Contains(t, sender.sent[1].Text, "Sin sesiones programadas.")
}

func TestUntilNextHour(t *testing.T) {
	logger := zerolog.Nop()
	n := NewNotifier(&fakeSender{}, nil, "", nil, time.UTC, &logger)
	n.now = func() time.Time { return time.Date(2026, 10, 18, 20, 30, 0, 0, time.UTC) }
	assert.Equal(t, 30*time.Minute, n.untilNextHour(21))
	assert.Equal(t, 23*time.Hour+30*time.Minute, n.untilNextHour(20))
}
