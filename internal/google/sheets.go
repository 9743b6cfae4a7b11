// Package google mirrors bookings into a Google Sheets spreadsheet.
package google

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"fotoagenda/internal/events"
	"fotoagenda/internal/models"
)

const syncTimeout = 15 * time.Second

// statusColumn is where the status label lives in bookingRowValues.
const statusColumn = "F"

// SheetsService appends new bookings and keeps their status column current.
type SheetsService struct {
	srv           *sheets.Service
	spreadsheetID string
	sheetName     string
	rowCache      map[int64]int
	mu            sync.RWMutex
	logger        *zerolog.Logger
}

// NewSheetsService authenticates with a service-account credentials file.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string, logger *zerolog.Logger) (*SheetsService, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return newSheetsService(srv, spreadsheetID, sheetName, logger), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID, sheetName string, logger *zerolog.Logger) *SheetsService {
	return &SheetsService{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		rowCache:      make(map[int64]int),
		logger:        logger,
	}
}

// Subscribe registers the service on the bus.
func (s *SheetsService) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.BookingCreated, func(e events.Event) error {
		var p events.BookingPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		return s.AppendBooking(ctx, p)
	})
	bus.Subscribe(events.BookingStatusChanged, func(e events.Event) error {
		var p events.BookingPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		return s.UpdateStatus(ctx, p.BookingID, models.BookingStatus(p.Status))
	})
}

// AppendBooking adds a row for a new booking.
func (s *SheetsService) AppendBooking(ctx context.Context, p events.BookingPayload) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{bookingRowValues(p)}}
	resp, err := s.srv.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:J", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append booking %d: %w", p.BookingID, err)
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(p.BookingID, row)
		}
	}
	s.logger.Debug().Int64("booking_id", p.BookingID).Msg("Booking appended to sheet")
	return nil
}

// UpdateStatus rewrites the status cell of a booking row.
func (s *SheetsService) UpdateStatus(ctx context.Context, bookingID int64, status models.BookingStatus) error {
	row, ok := s.getCachedRow(bookingID)
	if !ok {
		found, err := s.findRow(ctx, bookingID)
		if err != nil {
			return err
		}
		if found == 0 {
			s.logger.Warn().Int64("booking_id", bookingID).Msg("Booking row not found in sheet")
			return nil
		}
		row = found
		s.setCachedRow(bookingID, row)
	}

	cell := fmt.Sprintf("%s!%s%d", s.sheetName, statusColumn, row)
	vr := &sheets.ValueRange{Values: [][]interface{}{{status.Label()}}}
	if _, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, cell, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		s.deleteCacheRow(bookingID)
		return fmt.Errorf("update booking %d status: %w", bookingID, err)
	}
	return nil
}

// findRow scans the id column and returns the 1-based row of bookingID, or 0.
func (s *SheetsService) findRow(ctx context.Context, bookingID int64) (int, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read booking ids: %w", err)
	}
	want := strconv.FormatInt(bookingID, 10)
	for i, r := range resp.Values {
		if len(r) > 0 && fmt.Sprint(r[0]) == want {
			return i + 1, nil
		}
	}
	return 0, nil
}

func bookingRowValues(p events.BookingPayload) []interface{} {
	return []interface{}{
		p.BookingID,
		p.Date,
		p.Time,
		p.ServiceName,
		p.PackageName,
		models.BookingStatus(p.Status).Label(),
		p.CustomerName,
		p.CustomerPhone,
		p.Deposit,
		p.Source,
	}
}

var rangeRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// rowFromRange extracts the first row number from an A1 range like "Reservas!A7:J7".
func rowFromRange(a1 string) (int, bool) {
	m := rangeRowRe.FindStringSubmatch(a1)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

func (s *SheetsService) getCachedRow(bookingID int64) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rowCache[bookingID]
	return row, ok
}

func (s *SheetsService) setCachedRow(bookingID int64, row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache[bookingID] = row
}

func (s *SheetsService) deleteCacheRow(bookingID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rowCache, bookingID)
}

// ClearCache forgets every known row position.
func (s *SheetsService) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache = make(map[int64]int)
}
