package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotoagenda/internal/config"
	"fotoagenda/internal/models"
)

const testCatalog = `
services:
  - code: Service_Boda
    name: Boda
    category: eventos
    interval_minutes: 30
    weekly:
      - weekdays: [0]
        ranges:
          - {start: "16:00", end: "20:00"}
          - {start: "10:00", end: "12:00"}
    packages:
      - {name: Basico, price: "1500", deposit: "500", is_default: true}
      - {name: Premium, price: "3000.50", deposit: "1000", duration_minutes: 120, max_bookings: 2}
    exceptions:
      - {date: "2026-10-19", type: max_bookings, max_bookings: 3}
  - code: Service_XV
    name: XV Anos
    category: eventos
holidays:
  - {date: "2026-12-25", name: Navidad}
`

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func syncTestCatalog(t *testing.T, db *DB, body string) {
	t.Helper()
	cfg, err := config.ParseCatalog([]byte(body))
	require.NoError(t, err)
	require.NoError(t, db.SyncCatalog(context.Background(), cfg))
}

func TestSyncCatalog(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	syncTestCatalog(t, db, testCatalog)

	svc, err := db.GetServiceByCode(ctx, "Service_Boda")
	require.NoError(t, err)
	assert.Equal(t, "Boda", svc.Name)
	assert.Equal(t, 30, svc.IntervalMinutes)
	assert.Equal(t, models.ModePermanent, svc.Mode)

	weekly, err := db.ListWeeklyRanges(ctx, svc.ID, 0)
	require.NoError(t, err)
	require.Len(t, weekly, 2)
	assert.Equal(t, "16:00", weekly[0].StartTime, "order follows the catalog")
	assert.Equal(t, 1, weekly[1].OrderIndex)

	pkgs, err := db.ListPackages(ctx, svc.ID)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.True(t, pkgs[1].Price.Equal(decimal.RequireFromString("3000.50")))
	require.NotNil(t, pkgs[1].MaxBookings)
	assert.Equal(t, 2, *pkgs[1].MaxBookings)
	assert.Nil(t, pkgs[0].DurationMinutes)

	def, err := db.DefaultPackage(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Basico", def.Name)

	xmas := time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)
	exceptions, err := db.ListExceptions(ctx, svc.ID, xmas)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, models.ExceptionClosed, exceptions[0].Type)
	assert.Equal(t, "Navidad", exceptions[0].Note)

	t.Run("resync deactivates removed rows and keeps created_at", func(t *testing.T) {
		before, err := db.ListExceptions(ctx, svc.ID, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, before, 1)

		syncTestCatalog(t, db, `
services:
  - code: Service_Boda
    name: Boda
    packages:
      - {name: Basico, price: "1600", deposit: "500"}
    exceptions:
      - {date: "2026-10-19", type: max_bookings, max_bookings: 5}
`)
		after, err := db.ListExceptions(ctx, svc.ID, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, before[0].ID, after[0].ID)
		assert.Equal(t, 5, *after[0].MaxBookings)
		assert.True(t, before[0].CreatedAt.Equal(after[0].CreatedAt))

		pkgs, err := db.ListPackages(ctx, svc.ID)
		require.NoError(t, err)
		require.Len(t, pkgs, 1)
		assert.Equal(t, "1600", pkgs[0].Price.String())

		xv, err := db.GetServiceByCode(ctx, "Service_XV")
		require.NoError(t, err)
		assert.False(t, xv.IsActive)

		holidays, err := db.ListExceptions(ctx, svc.ID, xmas)
		require.NoError(t, err)
		assert.Empty(t, holidays)
	})
}

func TestBookings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	syncTestCatalog(t, db, testCatalog)

	svc, err := db.GetServiceByCode(ctx, "Service_Boda")
	require.NoError(t, err)
	user, err := db.UpsertUser(ctx, "5215550001111", "Ana")
	require.NoError(t, err)

	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	first := &models.Booking{
		ServiceID: svc.ID, UserID: user.ID, Date: monday, Time: "10:00", DurationMinutes: 60,
		Status: models.StatusPending, Source: models.SourceWhatsApp, CustomerName: "Ana",
		DepositAmount: decimal.NewFromInt(500),
	}
	require.NoError(t, db.InsertBooking(ctx, first))
	assert.NotZero(t, first.ID)

	second := *first
	second.Time = "16:00"
	second.Status = models.StatusCancelled
	require.NoError(t, db.InsertBooking(ctx, &second))

	active, err := db.ListActiveBookings(ctx, svc.ID, monday)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Boda", active[0].ServiceName)
	assert.True(t, active[0].DepositAmount.Equal(decimal.NewFromInt(500)))

	all, err := db.ListBookings(ctx, BookingFilter{ServiceID: svc.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := db.CountBookings(ctx, BookingFilter{Status: models.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	page, err := db.ListBookings(ctx, BookingFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "16:00", page[0].Time)

	require.NoError(t, db.UpdateBookingStatus(ctx, first.ID, models.StatusDoubts))
	got, err := db.GetBooking(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDoubts, got.Status)

	assert.ErrorIs(t, db.UpdateBookingStatus(ctx, 999, models.StatusConfirmed), ErrNotFound)
	_, err = db.GetBooking(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := db.LatestActiveBookingForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
}

func TestLatestActiveBookingForUser_ByAppointment(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	syncTestCatalog(t, db, testCatalog)

	svc, err := db.GetServiceByCode(ctx, "Service_Boda")
	require.NoError(t, err)
	user, err := db.UpsertUser(ctx, "5215550003333", "Luz")
	require.NoError(t, err)

	insert := func(day int, clock string) *models.Booking {
		b := &models.Booking{
			ServiceID: svc.ID, UserID: user.ID, Date: time.Date(2026, 10, day, 0, 0, 0, 0, time.UTC),
			Time: clock, DurationMinutes: 60, Status: models.StatusPending, Source: models.SourceWhatsApp,
		}
		require.NoError(t, db.InsertBooking(ctx, b))
		return b
	}
	later := insert(26, "10:00")
	laterSameDay := insert(26, "11:00")
	insert(19, "10:00")

	latest, err := db.LatestActiveBookingForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, laterSameDay.ID, latest.ID)

	require.NoError(t, db.UpdateBookingStatus(ctx, laterSameDay.ID, models.StatusCancelled))
	latest, err = db.LatestActiveBookingForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, later.ID, latest.ID)
}

func TestIntents_OneOpenPerUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	syncTestCatalog(t, db, testCatalog)

	svc, err := db.GetServiceByCode(ctx, "Service_Boda")
	require.NoError(t, err)
	user, err := db.UpsertUser(ctx, "5215550002222", "")
	require.NoError(t, err)

	first := &models.BookingIntent{Token: "t-1", UserID: user.ID, ServiceID: svc.ID, Status: models.IntentOpen}
	require.NoError(t, db.InsertIntent(ctx, first))

	second := &models.BookingIntent{Token: "t-2", UserID: user.ID, ServiceID: svc.ID, Status: models.IntentOpen}
	assert.ErrorIs(t, db.InsertIntent(ctx, second), ErrDuplicate)

	n, err := db.CancelOpenIntents(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, db.InsertIntent(ctx, second))

	open, err := db.OpenIntentForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "t-2", open.Token)

	old, err := db.GetIntentByToken(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentCancelled, old.Status)

	assert.ErrorIs(t, db.CompleteIntent(ctx, old.ID, 1), ErrNotFound)
}

func TestUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u, err := db.UpsertUser(ctx, "5215550003333", "Luis")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, u.State)

	again, err := db.UpsertUser(ctx, "5215550003333", "")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "Luis", again.Name)

	renamed, err := db.UpsertUser(ctx, "5215550003333", "Luis Perez")
	require.NoError(t, err)
	assert.Equal(t, "Luis Perez", renamed.Name)

	require.NoError(t, db.SaveConversation(ctx, u.ID, models.Conversation{State: models.StateBooking, ActiveNode: "agendar"}))
	stored, err := db.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateBooking, stored.State)
	assert.Equal(t, "agendar", stored.ActiveNode)

	require.NoError(t, db.SetNeedsAttention(ctx, u.ID, true))
	flagged, err := db.ListUsersNeedingAttention(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)

	assert.ErrorIs(t, db.SaveConversation(ctx, 999, models.Conversation{}), ErrNotFound)
}

func TestBackupService(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	logger := zerolog.Nop()

	svc := NewBackupService(db, config.BackupConfig{Enabled: true, Path: dir, RetentionDays: 1}, &logger)
	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	old := time.Now().AddDate(0, 0, -3)
	require.NoError(t, os.Chtimes(path, old, old))
	assert.Equal(t, 1, svc.CleanupOldBackups())
	assert.NoFileExists(t, path)
}
