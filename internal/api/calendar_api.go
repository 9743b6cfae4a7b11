package api

import (
	"net/http"
	"strconv"
	"strings"

	"fotoagenda/internal/booking"
	"fotoagenda/internal/models"
)

// ConfirmRequest is the request body for POST /api/calendar/{token}/confirm.
type ConfirmRequest struct {
	Date      string `json:"date"` // Format: YYYY-MM-DD
	Time      string `json:"time"` // Format: HH:MM
	PackageID *int64 `json:"package_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// TimesResponse lists free start times for a date.
type TimesResponse struct {
	Date  string   `json:"date"`
	Times []string `json:"times"`
}

// handleCalendarContext returns the service and packages behind a booking link.
// GET /api/calendar/{token}
func (s *HTTPServer) handleCalendarContext(w http.ResponseWriter, r *http.Request) {
	c, err := s.agenda.BookingContext(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCalendarTimes returns free start times for a booking link.
// GET /api/calendar/{token}/times?date=YYYY-MM-DD&package_id=N
func (s *HTTPServer) handleCalendarTimes(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, msgBadDate)
		return
	}
	pkg, ok := optionalID(r.URL.Query().Get("package_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadPackage)
		return
	}

	times, err := s.agenda.ListAvailableTimes(r.Context(), r.PathValue("token"), date, pkg)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TimesResponse{Date: date, Times: times})
}

// handleCalendarConfirm books the chosen slot.
// POST /api/calendar/{token}/confirm
func (s *HTTPServer) handleCalendarConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgBadJSON)
		return
	}
	if !validDate(req.Date) {
		writeError(w, http.StatusBadRequest, msgBadDate)
		return
	}
	if !validTime(req.Time) {
		writeError(w, http.StatusBadRequest, msgBadTime)
		return
	}

	b, err := s.agenda.Confirm(r.Context(), booking.ConfirmRequest{
		Token:     r.PathValue("token"),
		Date:      req.Date,
		Time:      req.Time,
		PackageID: req.PackageID,
		Customer:  booking.Customer{Name: req.Name, Phone: req.Phone, Notes: req.Notes},
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"booking": b,
		"message": "¡Listo! Registramos tu reserva. Te contactaremos para confirmar el anticipo.",
	})
}

const (
	msgBadJSON    = "El cuerpo de la solicitud no es JSON válido."
	msgBadDate    = "La fecha debe tener el formato AAAA-MM-DD."
	msgBadTime    = "La hora debe tener el formato HH:MM."
	msgBadPackage = "El paquete indicado no es válido."
	msgBadID      = "El identificador indicado no es válido."
)

func validDate(s string) bool {
	_, err := models.ParseDate(strings.TrimSpace(s))
	return err == nil
}

func validTime(s string) bool {
	_, err := models.ParseClock(strings.TrimSpace(s))
	return err == nil
}

// optionalID parses an optional positive id; ok is false for malformed input.
func optionalID(s string) (*int64, bool) {
	if s == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}
