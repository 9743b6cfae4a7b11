package api

import (
	"net/http"
	"strconv"

	"fotoagenda/internal/agenda"
	"fotoagenda/internal/booking"
	"fotoagenda/internal/export"
	"fotoagenda/internal/flow"
	"fotoagenda/internal/models"
)

// ManualBookingRequest is the request body for POST /api/dashboard/bookings.
type ManualBookingRequest struct {
	ServiceID int64  `json:"service_id"`
	PackageID *int64 `json:"package_id,omitempty"`
	Date      string `json:"date"` // Format: YYYY-MM-DD
	Time      string `json:"time"` // Format: HH:MM
	Status    string `json:"status,omitempty"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes,omitempty"`
	Deposit   string `json:"deposit,omitempty"`
}

// StatusRequest is the request body for POST /api/dashboard/bookings/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// GET /api/dashboard/services
func (s *HTTPServer) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.agenda.Services(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

// GET /api/dashboard/times?service_id=N&package_id=N&date=YYYY-MM-DD
func (s *HTTPServer) handleManualTimes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serviceID, err := strconv.ParseInt(q.Get("service_id"), 10, 64)
	if err != nil || serviceID <= 0 {
		writeError(w, http.StatusBadRequest, msgBadID)
		return
	}
	pkg, ok := optionalID(q.Get("package_id"))
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadPackage)
		return
	}
	date := q.Get("date")
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, msgBadDate)
		return
	}

	times, err := s.agenda.ManualAvailableTimes(r.Context(), serviceID, pkg, date)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TimesResponse{Date: date, Times: times})
}

// GET /api/dashboard/bookings?service_id=&status=&from=&to=&page=
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	query, ok := bookingQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadID)
		return
	}
	page, err := s.agenda.ListBookings(r.Context(), query)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// POST /api/dashboard/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req ManualBookingRequest
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
	deposit, err := agenda.ParseDeposit(req.Deposit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	b, err := s.agenda.CreateManualBooking(r.Context(), booking.ManualRequest{
		ServiceID: req.ServiceID,
		PackageID: req.PackageID,
		Date:      req.Date,
		Time:      req.Time,
		Status:    models.BookingStatus(req.Status),
		Customer:  booking.Customer{Name: req.Name, Phone: req.Phone, Notes: req.Notes},
		Deposit:   deposit,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": b})
}

// POST /api/dashboard/bookings/{id}/status
func (s *HTTPServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, msgBadID)
		return
	}
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgBadJSON)
		return
	}

	b, err := s.agenda.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

// GET /api/dashboard/bookings.xlsx?from=&to=
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query, ok := bookingQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, msgBadID)
		return
	}
	list, err := s.agenda.ExportBookings(r.Context(), query)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="reservas.xlsx"`)
	if err := export.WriteBookings(w, list); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write bookings export")
	}
}

// GET /api/dashboard/events?from=&to=
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.agenda.Events(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GET /api/dashboard/attention
func (s *HTTPServer) handleAttention(w http.ResponseWriter, r *http.Request) {
	users, err := s.agenda.AttentionChats(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// POST /api/dashboard/attention/{id}/resolve
func (s *HTTPServer) handleResolveAttention(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, msgBadID)
		return
	}
	u, err := s.agenda.ResolveAttention(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

// GET /api/dashboard/flow.mmd
func (s *HTTPServer) handleFlowDiagram(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(flow.Mermaid(s.router.Flow())))
}

func bookingQuery(r *http.Request) (agenda.BookingQuery, bool) {
	q := r.URL.Query()
	out := agenda.BookingQuery{Status: q.Get("status"), From: q.Get("from"), To: q.Get("to")}
	if v := q.Get("service_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return out, false
		}
		out.ServiceID = id
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return out, false
		}
		out.Page = page
	}
	return out, true
}
