// Package slots computes bookable start times for a service on a date.
package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fotoagenda/internal/models"
	"fotoagenda/internal/schedule"
)

const (
	minDurationMinutes = 1
	minStepMinutes     = 5
)

var (
	// ErrDayFull is returned by Check when the day-level max_bookings cap is reached.
	ErrDayFull = errors.New("day booking limit reached")
	// ErrPackageFull is returned by Check when the package cap for the date is reached.
	ErrPackageFull = errors.New("package booking limit reached")
	// ErrSlotTaken is returned by Check when the time is not a free slot start.
	ErrSlotTaken = errors.New("slot not available")
)

// Slot is a free start time and its exclusive end.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Clock returns the slot start as HH:MM.
func (s Slot) Clock() string {
	return s.Start.Format(models.TimeLayout)
}

// Store reads the schedule and reservations the generator needs.
type Store interface {
	ListWeeklyRanges(ctx context.Context, serviceID int64, weekday int) ([]models.WeeklyRange, error)
	ListExceptions(ctx context.Context, serviceID int64, date time.Time) ([]models.Exception, error)
	ListActiveBookings(ctx context.Context, serviceID int64, date time.Time) ([]models.Booking, error)
}

// Query describes one availability computation.
type Query struct {
	Service *models.Service
	Package *models.Package
	Date    time.Time
	// DurationMinutes is used only when neither the package nor the service define a duration.
	DurationMinutes int
	// IntervalMinutes overrides the service step when positive.
	IntervalMinutes int
}

// Duration returns the slot length for q.
func (q Query) Duration() time.Duration {
	minutes := q.DurationMinutes
	if q.Service != nil && q.Service.DurationMinutes > 0 {
		minutes = q.Service.DurationMinutes
	}
	if q.Package != nil && q.Package.DurationMinutes != nil && *q.Package.DurationMinutes > 0 {
		minutes = *q.Package.DurationMinutes
	}
	if minutes < minDurationMinutes {
		minutes = minDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Step returns the scan granularity for q.
func (q Query) Step() time.Duration {
	minutes := q.IntervalMinutes
	if minutes <= 0 && q.Service != nil {
		minutes = q.Service.IntervalMinutes
	}
	if minutes < minStepMinutes {
		minutes = minStepMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Generator produces free slots from the schedule and existing bookings.
type Generator struct {
	store Store
}

// NewGenerator creates a new slot generator.
func NewGenerator(store Store) *Generator {
	return &Generator{store: store}
}

// AvailableSlots returns the free slot starts for q in range order.
// Overlapping ranges may produce the same start twice.
func (g *Generator) AvailableSlots(ctx context.Context, q Query) ([]Slot, error) {
	slots, err := g.compute(ctx, q)
	if errors.Is(err, ErrDayFull) || errors.Is(err, ErrPackageFull) {
		return nil, nil
	}
	return slots, err
}

// Check verifies that clock is one of the free slot starts for q.
func (g *Generator) Check(ctx context.Context, q Query, clock string) error {
	slots, err := g.compute(ctx, q)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if s.Clock() == clock {
			return nil
		}
	}
	return ErrSlotTaken
}

func (g *Generator) compute(ctx context.Context, q Query) ([]Slot, error) {
	if q.Service == nil {
		return nil, fmt.Errorf("query without service")
	}
	svc := q.Service

	weekly, err := g.store.ListWeeklyRanges(ctx, svc.ID, models.Weekday(q.Date))
	if err != nil {
		return nil, fmt.Errorf("list weekly ranges: %w", err)
	}
	exceptions, err := g.store.ListExceptions(ctx, svc.ID, q.Date)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}

	ranges := schedule.EffectiveRanges(svc, q.Date, weekly, exceptions)
	if len(ranges) == 0 {
		return nil, nil
	}

	bookings, err := g.store.ListActiveBookings(ctx, svc.ID, q.Date)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	if limit := DayLimit(exceptions); limit != nil && countActive(bookings) >= *limit {
		return nil, ErrDayFull
	}
	if q.Package != nil && q.Package.MaxBookings != nil {
		if countPackage(bookings, q.Package.ID) >= *q.Package.MaxBookings {
			return nil, ErrPackageFull
		}
	}

	booked, err := bookedIntervals(bookings)
	if err != nil {
		return nil, err
	}

	duration := q.Duration()
	step := q.Step()
	var slots []Slot

	for _, r := range ranges {
		startTime, err := models.ClockOn(q.Date, r.Start)
		if err != nil {
			return nil, fmt.Errorf("parse range start: %w", err)
		}
		endTime, err := models.ClockOn(q.Date, r.End)
		if err != nil {
			return nil, fmt.Errorf("parse range end: %w", err)
		}

		for cursor := startTime; !cursor.Add(duration).After(endTime); cursor = cursor.Add(step) {
			slotEnd := cursor.Add(duration)
			if overlapsAny(cursor, slotEnd, booked) {
				continue
			}
			slots = append(slots, Slot{Start: cursor, End: slotEnd})
		}
	}

	return slots, nil
}

// DayLimit returns the cap of the most recently created active max_bookings
// exception, breaking ties by the highest id. It returns nil when none applies.
func DayLimit(exceptions []models.Exception) *int {
	var latest *models.Exception
	for i := range exceptions {
		ex := &exceptions[i]
		if !ex.IsActive || ex.Type != models.ExceptionMaxBookings || ex.MaxBookings == nil {
			continue
		}
		if latest == nil || ex.CreatedAt.After(latest.CreatedAt) ||
			(ex.CreatedAt.Equal(latest.CreatedAt) && ex.ID > latest.ID) {
			latest = ex
		}
	}
	if latest == nil {
		return nil
	}
	return latest.MaxBookings
}

type interval struct {
	start time.Time
	end   time.Time
}

func bookedIntervals(bookings []models.Booking) ([]interval, error) {
	out := make([]interval, 0, len(bookings))
	for i := range bookings {
		b := &bookings[i]
		if !b.Blocks() {
			continue
		}
		start, err := b.Start()
		if err != nil {
			return nil, fmt.Errorf("parse booking %d time: %w", b.ID, err)
		}
		minutes := b.DurationMinutes
		if minutes < minDurationMinutes {
			minutes = minDurationMinutes
		}
		out = append(out, interval{start: start, end: start.Add(time.Duration(minutes) * time.Minute)})
	}
	return out, nil
}

func countActive(bookings []models.Booking) int {
	n := 0
	for _, b := range bookings {
		if b.Blocks() {
			n++
		}
	}
	return n
}

func countPackage(bookings []models.Booking, packageID int64) int {
	n := 0
	for _, b := range bookings {
		if b.Blocks() && b.PackageID != nil && *b.PackageID == packageID {
			n++
		}
	}
	return n
}

func overlapsAny(start, end time.Time, booked []interval) bool {
	for _, b := range booked {
		if isOverlapping(start, end, b.start, b.end) {
			return true
		}
	}
	return false
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}

// Clocks converts slots to HH:MM strings.
func Clocks(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Clock()
	}
	return out
}
