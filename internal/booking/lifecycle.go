package booking

import "fotoagenda/internal/models"

// transitions lists the status changes staff may apply to a booking.
// Leaving cancelled re-occupies the slot and is re-checked against availability.
var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled, models.StatusDoubts},
	models.StatusDoubts:    {models.StatusPending, models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed: {models.StatusCancelled, models.StatusDoubts},
	models.StatusCancelled: {models.StatusPending, models.StatusConfirmed},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to models.BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// reactivates reports whether the change makes a cancelled booking block its slot again.
func reactivates(from, to models.BookingStatus) bool {
	return from == models.StatusCancelled && to != models.StatusCancelled
}
