// Package logging creates the application logger and carries it through
// contexts and fx modules.
package logging

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey int

var loggerKey = contextKey(0)

var ErrNoLoggerInContext = errors.New("no logger in context")

const (
	FormatProduction  = "production"
	FormatDevelopment = "development"
)

type Config struct {
	// Level is the minimum level that is logged. Default is info.
	Level string

	// Format selects JSON (production) or console (development) output.
	// Default is production.
	Format string

	// App is added to every entry as the "app" field.
	App string
}

// New builds a logger writing to stderr.
func New(config Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Format == FormatDevelopment {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	if config.App != "" {
		zapConfig.InitialFields = map[string]any{
			"app": config.App,
		}
	}

	zapConfig.Level = zap.NewAtomicLevelAt(ParseLevel(config.Level))

	return zapConfig.Build()
}

// ParseLevel parses a level name, falling back to info.
func ParseLevel(level string) zapcore.Level {
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		return lvl
	}
	return zapcore.InfoLevel
}

// Write logs msg at the named level. Levels above error are logged as
// errors, so that forwarded entries never terminate the process.
func Write(log *zap.Logger, level string, msg string, fields ...zap.Field) {
	lvl := ParseLevel(level)
	if lvl > zapcore.ErrorLevel {
		lvl = zapcore.ErrorLevel
	}

	if ce := log.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func LoggerFromContext(ctx context.Context) (*zap.Logger, error) {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger, nil
	}

	return nil, ErrNoLoggerInContext
}

// DecorateLogger names the logger of all components of an fx module.
func DecorateLogger(name string) fx.Option {
	return fx.Decorate(func(log *zap.Logger) *zap.Logger {
		return log.Named(name)
	})
}
