package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerFactory routes pion's internal logs into zerolog under module "pion".
type LoggerFactory struct {
	base zerolog.Logger
}

func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{base: log.With().Str("module", "pion").Logger()}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{l: f.base.With().Str("scope", scope).Logger()}
}

type scopedLogger struct {
	l zerolog.Logger
}

func (s *scopedLogger) Trace(msg string) { s.l.Trace().Msg(msg) }
func (s *scopedLogger) Tracef(format string, args ...interface{}) { s.l.Trace().Msgf(format, args...) }
func (s *scopedLogger) Debug(msg string) { s.l.Debug().Msg(msg) }
func (s *scopedLogger) Debugf(format string, args ...interface{}) { s.l.Debug().Msgf(format, args...) }
func (s *scopedLogger) Info(msg string) { s.l.Info().Msg(msg) }
func (s *scopedLogger) Infof(format string, args ...interface{}) { s.l.Info().Msgf(format, args...) }
func (s *scopedLogger) Warn(msg string) { s.l.Warn().Msg(msg) }
func (s *scopedLogger) Warnf(format string, args ...interface{}) { s.l.Warn().Msgf(format, args...) }
func (s *scopedLogger) Error(msg string) { s.l.Error().Msg(msg) }
func (s *scopedLogger) Errorf(format string, args ...interface{}) { s.l.Error().Msgf(format, args...) }
