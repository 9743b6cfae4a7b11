package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a reservation.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusDoubts    BookingStatus = "doubts"
)

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusDoubts:
		return true
	}
	return false
}

// Label is the operator-facing name of the status.
func (s BookingStatus) Label() string {
	switch s {
	case StatusPending:
		return "Pendiente"
	case StatusConfirmed:
		return "Confirmada"
	case StatusCancelled:
		return "Cancelada"
	case StatusDoubts:
		return "Dudas"
	}
	return string(s)
}

// BookingSource records which channel created a booking.
type BookingSource string

const (
	SourceWhatsApp  BookingSource = "whatsapp"
	SourceDashboard BookingSource = "dashboard"
)

// Booking is a reservation of a service slot. Bookings are never deleted, only cancelled.
type Booking struct {
	ID              int64           `json:"id"`
	ServiceID       int64           `json:"service_id"`
	ServiceName     string          `json:"service_name,omitempty"`
	PackageID       *int64          `json:"package_id,omitempty"`
	PackageName     string          `json:"package_name,omitempty"`
	UserID          int64           `json:"user_id"`
	Date            time.Time       `json:"date"`
	Time            string          `json:"time"`
	DurationMinutes int             `json:"duration_minutes"`
	Status          BookingStatus   `json:"status"`
	Source          BookingSource   `json:"source"`
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone"`
	CustomerNotes   string          `json:"customer_notes,omitempty"`
	DepositAmount   decimal.Decimal `json:"deposit_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Start returns the booking start as an instant on its date.
func (b *Booking) Start() (time.Time, error) {
	return ClockOn(b.Date, b.Time)
}

// End returns the exclusive end of the booking interval.
func (b *Booking) End() (time.Time, error) {
	start, err := b.Start()
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(b.DurationMinutes) * time.Minute), nil
}

// Blocks reports whether the booking occupies its slot.
func (b *Booking) Blocks() bool {
	return b.Status != StatusCancelled
}

// IntentStatus is the state of a conversational booking intent.
type IntentStatus string

const (
	IntentOpen      IntentStatus = "open"
	IntentCompleted IntentStatus = "completed"
	IntentCancelled IntentStatus = "cancelled"
)

// BookingIntent stages a booking while the customer picks a slot.
type BookingIntent struct {
	ID           int64        `json:"id"`
	Token        string       `json:"token"`
	UserID       int64        `json:"user_id"`
	ServiceID    int64        `json:"service_id"`
	PackageID    *int64       `json:"package_id,omitempty"`
	Status       IntentStatus `json:"status"`
	SourceOption string       `json:"source_option,omitempty"`
	BookingID    *int64       `json:"booking_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ClockOn places an HH:MM time of day on date.
func ClockOn(date time.Time, clock string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}
