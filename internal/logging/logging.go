package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"firefly-ai-categorize/internal/config"
	"firefly-ai-categorize/internal/entity"
)

// New creates a zerolog logger from config.
// Levels: trace|debug|info|warn|error. Formats: json|console.
func New(cfg config.LogConfig) *zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg config.LogConfig, w io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if strings.ToLower(cfg.Format) == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &l
}

// Component returns a child logger tagged with the component name.
func Component(base *zerolog.Logger, name string) *zerolog.Logger {
	l := base.With().Str("component", name).Logger()
	return &l
}

// WithJob attaches the job identity and a per-claim trace id.
func WithJob(base *zerolog.Logger, job *entity.Job, traceID string) *zerolog.Logger {
	l := base.With().
		Int64("job_id", job.ID).
		Str("transaction_id", job.TransactionID).
		Str("merchant", job.MerchantName).
		Int("attempt", job.Attempts).
		Str("trace_id", traceID).
		Logger()
	return &l
}

// Nop is a disabled logger, handy in tests.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
