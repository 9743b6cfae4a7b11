package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// AvailabilityMode controls whether a service has a global date window.
type AvailabilityMode string

const (
	ModePermanent AvailabilityMode = "permanent"
	ModeTemporary AvailabilityMode = "temporary"
)

// ExceptionType is the kind of a date-bound schedule override.
type ExceptionType string

const (
	ExceptionClosed       ExceptionType = "closed"
	ExceptionSpecialRange ExceptionType = "special_range"
	ExceptionMaxBookings  ExceptionType = "max_bookings"
)

// RangeMode tells a special_range exception how to combine with the weekly baseline.
type RangeMode string

const (
	RangeReplace RangeMode = "replace"
	RangeAdd     RangeMode = "add"
)

// Service is a bookable photography service.
type Service struct {
	ID              int64            `json:"id"`
	Code            string           `json:"code"`
	Name            string           `json:"name"`
	Category        string           `json:"category"`
	Description     string           `json:"description"`
	QuoteURL        string           `json:"quote_url,omitempty"`
	IsActive        bool             `json:"is_active"`
	Mode            AvailabilityMode `json:"availability_mode"`
	AvailableFrom   *time.Time       `json:"available_from,omitempty"`
	AvailableUntil  *time.Time       `json:"available_until,omitempty"`
	DurationMinutes int              `json:"duration_minutes"`
	IntervalMinutes int              `json:"interval_minutes"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// InWindow reports whether date falls inside the service's global availability window.
// Permanent services are always in window.
func (s *Service) InWindow(date time.Time) bool {
	if s.Mode != ModeTemporary {
		return true
	}
	return inDateWindow(date, s.AvailableFrom, s.AvailableUntil)
}

// WeeklyRange is a recurring open-hours interval. Weekday 0 is Monday.
type WeeklyRange struct {
	ID         int64  `json:"id"`
	ServiceID  int64  `json:"service_id"`
	Weekday    int    `json:"weekday"`
	Label      string `json:"label,omitempty"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	OrderIndex int    `json:"order_index"`
}

// Exception overrides the weekly schedule for one date.
type Exception struct {
	ID          int64         `json:"id"`
	ServiceID   int64         `json:"service_id"`
	Date        time.Time     `json:"date"`
	Type        ExceptionType `json:"type"`
	RangeMode   RangeMode     `json:"range_mode,omitempty"`
	StartTime   string        `json:"start_time,omitempty"`
	EndTime     string        `json:"end_time,omitempty"`
	MaxBookings *int          `json:"max_bookings,omitempty"`
	Note        string        `json:"note,omitempty"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
}

// HasRange reports whether both bounds of the exception's time range are set.
func (e *Exception) HasRange() bool {
	return e.StartTime != "" && e.EndTime != ""
}

// Package is a priced variant of a service.
type Package struct {
	ID              int64           `json:"id"`
	ServiceID       int64           `json:"service_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Deposit         decimal.Decimal `json:"deposit_required"`
	DurationMinutes *int            `json:"duration_minutes,omitempty"`
	AvailableFrom   *time.Time      `json:"available_from,omitempty"`
	AvailableUntil  *time.Time      `json:"available_until,omitempty"`
	MaxBookings     *int            `json:"max_bookings,omitempty"`
	IsDefault       bool            `json:"is_default"`
	IsActive        bool            `json:"is_active"`
	OrderIndex      int             `json:"order_index"`
}

// InWindow reports whether date falls inside the package's optional availability window.
func (p *Package) InWindow(date time.Time) bool {
	return inDateWindow(date, p.AvailableFrom, p.AvailableUntil)
}

// Weekday returns the weekday index of t with Monday as 0 and Sunday as 6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD string as a UTC calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// ParseClock validates an HH:MM string and returns it normalized.
func ParseClock(s string) (string, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return "", err
	}
	return t.Format(TimeLayout), nil
}

func inDateWindow(date time.Time, from, until *time.Time) bool {
	d := date.Format(DateLayout)
	if from != nil && d < from.Format(DateLayout) {
		return false
	}
	if until != nil && d > until.Format(DateLayout) {
		return false
	}
	return true
}
