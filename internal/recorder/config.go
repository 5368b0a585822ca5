package recorder

import (
	"github.com/roach88/runlog/internal/config"
	"github.com/roach88/runlog/internal/schema"
	"github.com/roach88/runlog/internal/writer"
)

// ConfigOptions maps the writer and validation sections of cfg onto recorder
// options.
func ConfigOptions(cfg config.Config) []Option {
	return []Option{
		WithWriterOptions(
			writer.WithThreshold(cfg.Writer.FlushThreshold),
			writer.WithInterval(cfg.Writer.FlushInterval),
			writer.WithMaxAttempts(cfg.Writer.MaxAttempts),
			writer.WithRetryInterval(cfg.Writer.RetryInitialInterval),
		),
		WithValidatorOptions(schema.WithMaxPayloadBytes(cfg.Validation.MaxPayloadBytes)),
	}
}
