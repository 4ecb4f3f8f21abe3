package monitor

import "github.com/rs/zerolog/log"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the structured log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Warn().Str("alert", message).Msg("monitor alert")
	return nil
}
