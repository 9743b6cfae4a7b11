package flow

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Sender delivers outbound payloads to WhatsApp.
type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// LogSender records outbound payloads in the log instead of delivering them.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, p Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.logger.Info().Str("to", p.To).Str("type", p.Type).RawJSON("payload", raw).Msg("Outbound WhatsApp message")
	return nil
}
