package api

import (
	"io"
	"net/http"

	"fotoagenda/internal/flow"
)

// handleWebhookVerify answers the WhatsApp subscription challenge.
// GET /webhook?hub.mode=subscribe&hub.verify_token=...&hub.challenge=...
func (s *HTTPServer) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || s.verifyToken == "" || q.Get("hub.verify_token") != s.verifyToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// handleWebhook routes inbound customer messages and sends the replies.
// Delivery failures are logged and acknowledged so WhatsApp does not retry.
// POST /webhook
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgBadJSON)
		return
	}
	messages, err := flow.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgBadJSON)
		return
	}

	ctx := r.Context()
	replies := 0
	for _, in := range messages {
		if s.limiter != nil {
			allowed, err := s.limiter.Allow(ctx, in.From)
			if err != nil {
				s.logger.Warn().Err(err).Str("sender", in.From).Msg("Rate limiter unavailable")
			}
			if !allowed {
				s.logger.Warn().Str("sender", in.From).Msg("Sender rate limited")
				continue
			}
		}

		out, err := s.router.Handle(ctx, in)
		if err != nil {
			s.logger.Error().Err(err).Str("sender", in.From).Msg("Failed to route message")
			continue
		}
		for _, p := range out {
			if err := s.sender.Send(ctx, p); err != nil {
				s.logger.Error().Err(err).Str("sender", in.From).Msg("Failed to send reply")
				continue
			}
			replies++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"received": len(messages), "replies": replies})
}
