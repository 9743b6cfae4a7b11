// Package api exposes the calendar page, the staff dashboard and the WhatsApp
// webhook over HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fotoagenda/internal/agenda"
	"fotoagenda/internal/booking"
	"fotoagenda/internal/flow"
	"fotoagenda/internal/metrics"
	"fotoagenda/internal/state"
)

const maxBodyBytes = 1 << 20

// Config configures the HTTP server.
type Config struct {
	Port               int
	APIKeys            []string
	VerifyToken        string
	RateLimitPerSecond float64
	RateLimitBurst     int
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	agenda      *agenda.Agenda
	router      *flow.Router
	sender      flow.Sender
	limiter     state.Limiter
	verifyToken string
	apiKeys     map[string]struct{}
	clients     *clientLimiter
	logger      *zerolog.Logger
	server      *http.Server
}

func NewHTTPServer(cfg Config, ag *agenda.Agenda, router *flow.Router, sender flow.Sender,
	limiter state.Limiter, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		agenda:      ag,
		router:      router,
		sender:      sender,
		limiter:     limiter,
		verifyToken: cfg.VerifyToken,
		apiKeys:     make(map[string]struct{}, len(cfg.APIKeys)),
		clients:     newClientLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst, parseProxies(cfg.TrustedProxies, logger)),
		logger:      logger,
	}
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			s.apiKeys[k] = struct{}{}
		}
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.rateLimit(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/calendar/{token}", s.track("calendar_context", s.handleCalendarContext))
	mux.HandleFunc("GET /api/calendar/{token}/times", s.track("calendar_times", s.handleCalendarTimes))
	mux.HandleFunc("POST /api/calendar/{token}/confirm", s.track("calendar_confirm", s.handleCalendarConfirm))

	mux.HandleFunc("GET /api/dashboard/services", s.track("dashboard_services", s.auth(s.handleServices)))
	mux.HandleFunc("GET /api/dashboard/times", s.track("dashboard_times", s.auth(s.handleManualTimes)))
	mux.HandleFunc("GET /api/dashboard/bookings", s.track("dashboard_bookings", s.auth(s.handleListBookings)))
	mux.HandleFunc("POST /api/dashboard/bookings", s.track("dashboard_create", s.auth(s.handleCreateBooking)))
	mux.HandleFunc("POST /api/dashboard/bookings/{id}/status", s.track("dashboard_status", s.auth(s.handleUpdateStatus)))
	mux.HandleFunc("GET /api/dashboard/bookings.xlsx", s.track("dashboard_export", s.auth(s.handleExport)))
	mux.HandleFunc("GET /api/dashboard/events", s.track("dashboard_events", s.auth(s.handleEvents)))
	mux.HandleFunc("GET /api/dashboard/attention", s.track("dashboard_attention", s.auth(s.handleAttention)))
	mux.HandleFunc("POST /api/dashboard/attention/{id}/resolve", s.track("dashboard_resolve", s.auth(s.handleResolveAttention)))
	mux.HandleFunc("GET /api/dashboard/flow.mmd", s.track("dashboard_flow", s.auth(s.handleFlowDiagram)))

	mux.HandleFunc("GET /webhook", s.track("webhook_verify", s.handleWebhookVerify))
	mux.HandleFunc("POST /webhook", s.track("webhook", s.handleWebhook))
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// track counts requests per route and response code.
func (s *HTTPServer) track(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		metrics.IncHTTP(route, rec.code)
	}
}

func (s *HTTPServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.apiKeys) > 0 {
			if _, ok := s.apiKeys[r.Header.Get("X-Api-Key")]; !ok {
				writeError(w, http.StatusUnauthorized, "No autorizado.")
				return
			}
		}
		next(w, r)
	}
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.clients.allow(s.clients.clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "Demasiadas solicitudes. Intenta de nuevo en un momento.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeFailure maps booking error kinds to status codes with the Spanish message.
func (s *HTTPServer) writeFailure(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, booking.ErrInvalidInput), errors.Is(err, booking.ErrOutOfRange):
		code = http.StatusBadRequest
	case errors.Is(err, booking.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, booking.ErrSlotUnavailable), errors.Is(err, booking.ErrCapacityExceeded):
		code = http.StatusConflict
	}
	writeError(w, code, agenda.Message(err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
