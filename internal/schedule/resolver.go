// Package schedule resolves the open hours of a service on a calendar date.
package schedule

import (
	"sort"
	"time"

	"fotoagenda/internal/models"
)

// Range is an open interval of a day in HH:MM form.
type Range struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label,omitempty"`
}

// EffectiveRanges returns the open ranges for svc on date.
//
// weekly and exceptions may hold rows for other weekdays or dates; only the
// matching ones are considered. A closed exception empties the day. Replace-mode
// special ranges discard the weekly baseline and add-mode ranges are appended
// afterwards. Ranges are returned as given, overlapping ones included.
func EffectiveRanges(svc *models.Service, date time.Time, weekly []models.WeeklyRange, exceptions []models.Exception) []Range {
	if svc == nil || !svc.IsActive || !svc.InWindow(date) {
		return nil
	}

	day := date.Format(models.DateLayout)
	var replace, add []Range
	for _, ex := range exceptions {
		if !ex.IsActive || ex.ServiceID != svc.ID || ex.Date.Format(models.DateLayout) != day {
			continue
		}
		switch ex.Type {
		case models.ExceptionClosed:
			return nil
		case models.ExceptionSpecialRange:
			if !ex.HasRange() {
				continue
			}
			r := Range{Start: ex.StartTime, End: ex.EndTime, Label: ex.Note}
			if ex.RangeMode == models.RangeReplace {
				replace = append(replace, r)
			} else {
				add = append(add, r)
			}
		case models.ExceptionMaxBookings:
			// Capacity is enforced by the slot engine.
		}
	}

	var ranges []Range
	if len(replace) > 0 {
		ranges = replace
	} else {
		ranges = baseline(svc.ID, models.Weekday(date), weekly)
	}
	return append(ranges, add...)
}

func baseline(serviceID int64, weekday int, weekly []models.WeeklyRange) []Range {
	rows := make([]models.WeeklyRange, 0, len(weekly))
	for _, w := range weekly {
		if w.ServiceID == serviceID && w.Weekday == weekday {
			rows = append(rows, w)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].OrderIndex != rows[j].OrderIndex {
			return rows[i].OrderIndex < rows[j].OrderIndex
		}
		return rows[i].StartTime < rows[j].StartTime
	})

	ranges := make([]Range, 0, len(rows))
	for _, w := range rows {
		ranges = append(ranges, Range{Start: w.StartTime, End: w.EndTime, Label: w.Label})
	}
	return ranges
}
