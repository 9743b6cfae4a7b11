package booking

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotoagenda/internal/config"
	"fotoagenda/internal/database"
	"fotoagenda/internal/events"
	"fotoagenda/internal/models"
)

const testCatalog = `
services:
  - code: Service_Sesion
    name: Sesion de fotos
    duration_minutes: 60
    interval_minutes: 30
    weekly:
      - weekdays: [0]
        ranges:
          - {start: "10:00", end: "12:00"}
    packages:
      - {name: Basico, price: "1500", deposit: "500", is_default: true}
      - {name: Mini, price: "800", deposit: "200", duration_minutes: 30, max_bookings: 1}
    exceptions:
      - {date: "2026-10-26", type: max_bookings, max_bookings: 1}
  - code: Service_Navidad
    name: Mini sesion navidena
    availability_mode: temporary
    available_from: "2026-12-01"
    available_until: "2026-12-20"
    weekly:
      - weekdays: [0, 1, 2, 3, 4, 5, 6]
        ranges:
          - {start: "10:00", end: "14:00"}
`

// Thursday 2026-10-15 09:00 UTC; the next Monday is 2026-10-19.
var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishPayload(eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

type fixture struct {
	db      *database.DB
	svc     *Service
	sesion  *models.Service
	navidad *models.Service
	events  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "booking.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog, err := config.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	require.NoError(t, db.SyncCatalog(ctx, catalog))

	rec := &recorder{}
	svc := NewService(db, time.UTC, rec, &logger)
	svc.SetClock(func() time.Time { return testNow })

	sesion, err := db.GetServiceByCode(ctx, "Service_Sesion")
	require.NoError(t, err)
	navidad, err := db.GetServiceByCode(ctx, "Service_Navidad")
	require.NoError(t, err)

	return &fixture{db: db, svc: svc, sesion: sesion, navidad: navidad, events: rec}
}

func (f *fixture) intent(t *testing.T, phone string, serviceID int64) *models.BookingIntent {
	t.Helper()
	ctx := context.Background()
	user, err := f.db.UpsertUser(ctx, phone, "Cliente "+phone)
	require.NoError(t, err)
	it, err := f.svc.CreateIntent(ctx, user.ID, serviceID, "agendar")
	require.NoError(t, err)
	return it
}

func (f *fixture) pkg(t *testing.T, name string) *models.Package {
	t.Helper()
	pkgs, err := f.db.ListPackages(context.Background(), f.sesion.ID)
	require.NoError(t, err)
	for i := range pkgs {
		if pkgs[i].Name == name {
			return &pkgs[i]
		}
	}
	t.Fatalf("package %s not found", name)
	return nil
}

func TestCreateIntent_SupersedesOpenIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.intent(t, "5215550001", f.sesion.ID)
	require.NotNil(t, first.PackageID, "default package is attached")
	assert.Equal(t, f.pkg(t, "Basico").ID, *first.PackageID)

	second, err := f.svc.CreateIntent(ctx, first.UserID, f.navidad.ID, "navidad")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
	require.NotNil(t, second.PackageID)
	assert.NotEqual(t, *first.PackageID, *second.PackageID, "each service has its own default package")

	old, err := f.db.GetIntentByToken(ctx, first.Token)
	require.NoError(t, err)
	assert.Equal(t, models.IntentCancelled, old.Status)

	open, err := f.db.OpenIntentForUser(ctx, first.UserID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, open.ID)
}

func TestCreateIntent_UnknownService(t *testing.T) {
	f := newFixture(t)
	user, err := f.db.UpsertUser(context.Background(), "5215550002", "")
	require.NoError(t, err)

	_, err = f.svc.CreateIntent(context.Background(), user.ID, 999, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirm_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	it := f.intent(t, "5215550003", f.sesion.ID)

	b, err := f.svc.Confirm(ctx, ConfirmRequest{Token: it.Token, Date: "2026-10-19", Time: "10:30"})
	require.NoError(t, err)

	assert.Equal(t, "2026-10-19", b.Date.Format(models.DateLayout))
	assert.Equal(t, "10:30", b.Time)
	assert.Equal(t, 60, b.DurationMinutes)
	assert.Equal(t, f.sesion.ID, b.ServiceID)
	assert.Equal(t, "Basico", b.PackageName)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, models.SourceWhatsApp, b.Source)
	assert.Equal(t, "Cliente 5215550003", b.CustomerName)
	assert.True(t, b.DepositAmount.Equal(decimal.NewFromInt(500)))

	stored, err := f.db.GetIntentByToken(ctx, it.Token)
	require.NoError(t, err)
	assert.Equal(t, models.IntentCompleted, stored.Status)
	require.NotNil(t, stored.BookingID)
	assert.Equal(t, b.ID, *stored.BookingID)

	assert.Equal(t, []string{events.BookingCreated}, f.events.events)

	_, err = f.svc.Confirm(ctx, ConfirmRequest{Token: it.Token, Date: "2026-10-19", Time: "11:00"})
	assert.ErrorIs(t, err, ErrNoOpenIntent, "completed intents cannot book twice")
}

func TestConfirm_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := f.intent(t, "5215550004", f.sesion.ID)
	_, err := f.svc.Confirm(ctx, ConfirmRequest{Token: other.Token, Date: "2026-10-19", Time: "10:00"})
	require.NoError(t, err)

	mini := f.pkg(t, "Mini").ID
	foreign := int64(12345)

	tests := []struct {
		name    string
		service func() int64
		req     ConfirmRequest
		want    error
	}{
		{"bad date", func() int64 { return f.sesion.ID }, ConfirmRequest{Date: "19/10/2026", Time: "10:00"}, ErrInvalidInput},
		{"bad time", func() int64 { return f.sesion.ID }, ConfirmRequest{Date: "2026-10-19", Time: "25:00"}, ErrInvalidInput},
		{"past date", func() int64 { return f.sesion.ID }, ConfirmRequest{Date: "2026-10-12", Time: "10:00"}, ErrOutOfRange},
		{"taken slot", func() int64 { return f.sesion.ID }, ConfirmRequest{Date: "2026-10-19", Time: "10:30"}, ErrSlotUnavailable},
		{"not a slot start", func() int64 { return f.sesion.ID }, ConfirmRequest{Date: "2026-10-19", Time: "11:15"}, ErrSlotUnavailable},
		{"closed weekday", func() int64 { return f.sesion.ID }, ConfirmRequest{Date: "2026-10-20", Time: "10:00"}, ErrSlotUnavailable},
		{"first booking under day cap", func() int64 { return f.sesion.ID }, ConfirmRequest{Date: "2026-10-26", Time: "10:00"}, nil},
		{"outside service window", func() int64 { return f.navidad.ID }, ConfirmRequest{Date: "2026-11-30", Time: "10:00"}, ErrOutOfRange},
		{"foreign package", func() int64 { return f.navidad.ID }, ConfirmRequest{Date: "2026-12-02", Time: "10:00", PackageID: &mini}, ErrNotFound},
		{"unknown package", func() int64 { return f.sesion.ID }, ConfirmRequest{Date: "2026-10-19", Time: "11:00", PackageID: &foreign}, ErrNotFound},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := f.intent(t, fmt.Sprintf("52155510%02d", i), tt.service())
			tt.req.Token = it.Token
			_, err := f.svc.Confirm(ctx, tt.req)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("day cap exceeded", func(t *testing.T) {
		it := f.intent(t, "5215559999", f.sesion.ID)
		_, err := f.svc.Confirm(ctx, ConfirmRequest{Token: it.Token, Date: "2026-10-26", Time: "11:00"})
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.svc.Confirm(ctx, ConfirmRequest{Token: "nope", Date: "2026-10-19", Time: "11:00"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConfirm_PackageCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mini := f.pkg(t, "Mini").ID

	first := f.intent(t, "5215550010", f.sesion.ID)
	b, err := f.svc.Confirm(ctx, ConfirmRequest{Token: first.Token, Date: "2026-10-19", Time: "10:00", PackageID: &mini})
	require.NoError(t, err)
	assert.Equal(t, 30, b.DurationMinutes)

	second := f.intent(t, "5215550011", f.sesion.ID)
	_, err = f.svc.Confirm(ctx, ConfirmRequest{Token: second.Token, Date: "2026-10-19", Time: "11:00", PackageID: &mini})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, err = f.svc.Confirm(ctx, ConfirmRequest{Token: second.Token, Date: "2026-10-19", Time: "11:00"})
	assert.NoError(t, err, "the default package has no cap")
}

func TestConfirm_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const attempts = 8
	tokens := make([]string, attempts)
	for i := range tokens {
		tokens[i] = f.intent(t, fmt.Sprintf("52155520%02d", i), f.sesion.ID).Token
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		lost    int
	)
	start := make(chan struct{})
	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			<-start
			_, err := f.svc.Confirm(ctx, ConfirmRequest{Token: token, Date: "2026-10-19", Time: "10:30"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case assert.ErrorIs(t, err, ErrSlotUnavailable):
				lost++
			}
		}(token)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, attempts-1, lost)

	active, err := f.db.ListActiveBookings(ctx, f.sesion.ID, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, 0, f.svc.locks.size())
}

func TestCreateManual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	premium := decimal.NewFromInt(1200)

	b, err := f.svc.CreateManual(ctx, ManualRequest{
		ServiceID: f.sesion.ID,
		Date:      "2026-10-19",
		Time:      "11:00",
		Status:    models.StatusConfirmed,
		Customer:  Customer{Name: " Ana Lopez ", Phone: "5215550100", Notes: "llamar antes"},
		Deposit:   &premium,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, models.SourceDashboard, b.Source)
	assert.Equal(t, "Ana Lopez", b.CustomerName)
	assert.True(t, b.DepositAmount.Equal(premium))

	user, err := f.db.GetUserByPhone(ctx, "5215550100")
	require.NoError(t, err)
	assert.Equal(t, user.ID, b.UserID)

	tooMuch := decimal.NewFromInt(1501)
	negative := decimal.NewFromInt(-1)
	tests := []struct {
		name string
		req  ManualRequest
		want error
	}{
		{"cancelled status", ManualRequest{Status: models.StatusCancelled, Date: "2026-10-19", Time: "10:00", Customer: Customer{Name: "A", Phone: "1"}}, ErrInvalidInput},
		{"missing phone", ManualRequest{Date: "2026-10-19", Time: "10:00", Customer: Customer{Name: "A"}}, ErrInvalidInput},
		{"deposit above price", ManualRequest{Date: "2026-10-19", Time: "10:00", Customer: Customer{Name: "A", Phone: "1"}, Deposit: &tooMuch}, ErrDepositTooHigh},
		{"negative deposit", ManualRequest{Date: "2026-10-19", Time: "10:00", Customer: Customer{Name: "A", Phone: "1"}, Deposit: &negative}, ErrInvalidInput},
		{"overlap", ManualRequest{Date: "2026-10-19", Time: "10:30", Customer: Customer{Name: "A", Phone: "1"}}, ErrSlotUnavailable},
		{"past date", ManualRequest{Date: "2026-10-12", Time: "10:00", Customer: Customer{Name: "A", Phone: "1"}}, ErrPastDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ServiceID = f.sesion.ID
			_, err := f.svc.CreateManual(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("past date allowed when configured", func(t *testing.T) {
		f.svc.AllowPastManual(true)
		defer f.svc.AllowPastManual(false)
		_, err := f.svc.CreateManual(ctx, ManualRequest{
			ServiceID: f.sesion.ID, Date: "2026-10-12", Time: "10:00",
			Customer: Customer{Name: "B", Phone: "5215550101"},
		})
		assert.NoError(t, err)
	})
}

func TestConfirm_TodayPastTime(t *testing.T) {
	f := newFixture(t)
	// Monday 2026-10-19 10:15.
	f.svc.SetClock(func() time.Time { return time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC) })

	it := f.intent(t, "5215550200", f.sesion.ID)
	_, err := f.svc.Confirm(context.Background(), ConfirmRequest{Token: it.Token, Date: "2026-10-19", Time: "10:00"})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.svc.Confirm(context.Background(), ConfirmRequest{Token: it.Token, Date: "2026-10-19", Time: "10:30"})
	assert.NoError(t, err)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.intent(t, "5215550300", f.sesion.ID)
	b, err := f.svc.Confirm(ctx, ConfirmRequest{Token: first.Token, Date: "2026-10-19", Time: "10:00"})
	require.NoError(t, err)

	updated, err := f.svc.UpdateStatus(ctx, b.ID, models.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)

	_, err = f.svc.UpdateStatus(ctx, b.ID, "archived")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.UpdateStatus(ctx, b.ID, models.StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, b.ID, models.StatusCancelled)
	require.NoError(t, err)

	second := f.intent(t, "5215550301", f.sesion.ID)
	_, err = f.svc.Confirm(ctx, ConfirmRequest{Token: second.Token, Date: "2026-10-19", Time: "10:00"})
	require.NoError(t, err, "cancelled bookings free their slot")

	_, err = f.svc.UpdateStatus(ctx, b.ID, models.StatusPending)
	assert.ErrorIs(t, err, ErrSlotUnavailable, "reactivation needs a free slot")

	_, err = f.svc.UpdateStatus(ctx, 999, models.StatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Contains(t, f.events.events, events.BookingStatusChanged)
}

func TestFlagLatestForDoubts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	it := f.intent(t, "5215550400", f.sesion.ID)
	_, err := f.svc.FlagLatestForDoubts(ctx, it.UserID)
	assert.ErrorIs(t, err, ErrNotFound)

	b, err := f.svc.Confirm(ctx, ConfirmRequest{Token: it.Token, Date: "2026-10-19", Time: "11:00"})
	require.NoError(t, err)

	flagged, err := f.svc.FlagLatestForDoubts(ctx, it.UserID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, flagged.ID)
	assert.Equal(t, models.StatusDoubts, flagged.Status)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.StatusPending, models.StatusConfirmed))
	assert.True(t, CanTransition(models.StatusCancelled, models.StatusPending))
	assert.False(t, CanTransition(models.StatusConfirmed, models.StatusPending))
	assert.False(t, CanTransition(models.StatusCancelled, models.StatusDoubts))
}
