package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/linemk/market-checkout/internal/lib/logger/handlers/slogpretty"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	ServiceName = "market-checkout"
)

// SetupLogger - логгер сервиса в stdout
func SetupLogger(env string) *slog.Logger {
	return New(env, os.Stdout)
}

// New: local - цветной вывод с debug, dev - JSON с debug и источником, prod и прочее - JSON с info.
// Каждая запись несёт имя сервиса и окружение.
func New(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	switch env {
	case EnvLocal:
		color.NoColor = false
		opts := slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug},
		}
		handler = opts.NewPrettyHandler(w)
	case EnvDev:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug, AddSource: true})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	return slog.New(handler).With(slog.String("service", ServiceName), slog.String("env", env))
}

// Component - логгер подсистемы: checkout, submerchant, iyzipay, events
func Component(log *slog.Logger, name string) *slog.Logger {
	return log.With(slog.String("component", name))
}
