package logging

import (
	"github.com/rs/zerolog"
	tlog "go.temporal.io/sdk/log"
)

var _ tlog.Logger = (*TemporalLogger)(nil)

// TemporalLogger routes Temporal SDK logs through zerolog
type TemporalLogger struct {
	logger zerolog.Logger
}

// NewTemporalLogger wraps l for use in client.Options.Logger
func NewTemporalLogger(l zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: l.With().Str("component", "temporal").Logger()}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug().Fields(keyvals).Msg(msg)
}

func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info().Fields(keyvals).Msg(msg)
}

func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn().Fields(keyvals).Msg(msg)
}

func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error().Fields(keyvals).Msg(msg)
}
