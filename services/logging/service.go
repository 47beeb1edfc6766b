package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is a nil-safe zap logger. Components receive a nil *Service when
// logging is not wired, and every method then does nothing.
type Service struct {
	logger *zap.Logger
}

type LogLevel string

const (
	Debug LogLevel = "debug"
	Info  LogLevel = "info"
	Warn  LogLevel = "warn"
	Error LogLevel = "error"
)

type Config struct {
	Level LogLevel
	// json or console
	Format string
	// stdout, stderr or a file path
	OutputPath string
}

func NewService(cfg Config) (*Service, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(cfg.Level))
	zapConfig.EncoderConfig.TimeKey = "ts"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// revocation sweeps log at Error on partial failure; a stack adds nothing
	zapConfig.DisableStacktrace = true

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch cfg.OutputPath {
	case "", "stdout":
		zapConfig.OutputPaths = []string{"stdout"}
	default:
		zapConfig.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zapConfig.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return FromZap(logger), nil
}

// FromZap wraps an existing zap logger, e.g. an observer core in tests.
func FromZap(logger *zap.Logger) *Service {
	if logger == nil {
		return nil
	}
	return &Service{logger: logger}
}

// Named returns a child logger scoped to one component. Calling it on a nil
// service yields nil, which every method tolerates.
func (s *Service) Named(name string) *Service {
	if s == nil {
		return nil
	}
	return FromZap(s.logger.Named(name))
}

// With returns a child logger that always carries fields.
func (s *Service) With(fields ...zap.Field) *Service {
	if s == nil {
		return nil
	}
	return FromZap(s.logger.With(fields...))
}

func (s *Service) Logger() *zap.Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) Debug(msg string, fields ...zap.Field) { s.log(zapcore.DebugLevel, msg, fields) }
func (s *Service) Info(msg string, fields ...zap.Field)  { s.log(zapcore.InfoLevel, msg, fields) }
func (s *Service) Warn(msg string, fields ...zap.Field)  { s.log(zapcore.WarnLevel, msg, fields) }
func (s *Service) Error(msg string, fields ...zap.Field) { s.log(zapcore.ErrorLevel, msg, fields) }

func (s *Service) log(level zapcore.Level, msg string, fields []zap.Field) {
	if s == nil {
		return
	}
	s.logger.Log(level, msg, fields...)
}

func (s *Service) Sync() error {
	if s == nil {
		return nil
	}
	return s.logger.Sync()
}

func parseLogLevel(level LogLevel) zapcore.Level {
	parsed, err := zapcore.ParseLevel(string(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return parsed
}
