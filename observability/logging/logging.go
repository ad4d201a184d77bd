// Package logging configures structured JSON logging for the module's
// binaries and returns loggers the workflow layer can attach run context to.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup builds a JSON slog.Logger writing to stdout, installs it as the
// process default and bridges the standard library logger onto it. The
// service name is attached to every record.
func Setup(service string, level slog.Level) *slog.Logger {
	return SetupWriter(os.Stdout, service, level)
}

// SetupWriter is Setup with an explicit destination, used by tests.
func SetupWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "timestamp"
			case slog.LevelKey:
				attr = slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "message"
			}
			return attr
		},
	})

	base := slog.New(handler)
	if service = strings.TrimSpace(service); service != "" {
		base = base.With(slog.String("service", service))
	}
	slog.SetDefault(base)

	// Bridge the standard library logger so dependencies that still use it
	// land in the same stream.
	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
