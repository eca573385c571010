package logger

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var DisableLogging = false
var disabledLogger = zerolog.New(nil)

func Ctx(ctx context.Context) *zerolog.Logger {
	if DisableLogging {
		return &disabledLogger
	}
	return log.Ctx(ctx)
}

func Default() *zerolog.Logger {
	if DisableLogging {
		return &disabledLogger
	}
	return &log.Logger
}

// WithStr returns a context whose logger carries an extra string field.
// When the context has no logger, the default logger is used as the base.
func WithStr(ctx context.Context, key, value string) context.Context {
	base := log.Ctx(ctx)
	if base.GetLevel() == zerolog.Disabled {
		base = &log.Logger
	}
	l := base.With().Str(key, value).Logger()
	return l.WithContext(ctx)
}
