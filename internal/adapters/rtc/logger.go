package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// LoggerFactory routes pion's scoped loggers into zerolog.
type LoggerFactory struct {
	base zerolog.Logger
}

func NewLoggerFactory(base zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{base: base}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{l: f.base.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type scopedLogger struct {
	l zerolog.Logger
}

func (s *scopedLogger) Trace(msg string)                          { s.l.Trace().Msg(msg) }
func (s *scopedLogger) Tracef(format string, args ...interface{}) { s.l.Trace().Msgf(format, args...) }
func (s *scopedLogger) Debug(msg string)                          { s.l.Debug().Msg(msg) }
func (s *scopedLogger) Debugf(format string, args ...interface{}) { s.l.Debug().Msgf(format, args...) }
func (s *scopedLogger) Info(msg string)                           { s.l.Info().Msg(msg) }
func (s *scopedLogger) Infof(format string, args ...interface{})  { s.l.Info().Msgf(format, args...) }
func (s *scopedLogger) Warn(msg string)                           { s.l.Warn().Msg(msg) }
func (s *scopedLogger) Warnf(format string, args ...interface{})  { s.l.Warn().Msgf(format, args...) }
func (s *scopedLogger) Error(msg string)                          { s.l.Error().Msg(msg) }
func (s *scopedLogger) Errorf(format string, args ...interface{}) { s.l.Error().Msgf(format, args...) }
