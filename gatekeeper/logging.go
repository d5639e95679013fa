package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const loggerNameKey = "logger"

var (
	defaultLogWriter io.Writer = os.Stdout
)

// newLogHandler returns the tint handler used for every component logger,
// writing to defaultLogWriter at the given level.
func newLogHandler(level slog.Leveler) slog.Handler {
	return tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}

// newComponentLogger returns a logger tagged with the component name
func newComponentLogger(level slog.Leveler, name string) *slog.Logger {
	return slog.New(newLogHandler(level)).With(loggerNameKey, name)
}

// discordgoLoggerFunc returns a function suitable for discordgo.Logger,
// which routes discordgo's own log output through the given handler.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

type gormStructuredLogger struct {
	logger        *slog.Logger
	handler       slog.Handler
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		handler:       handler,
		SlowThreshold: slowThreshold,
	}
}

func (g gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g gormStructuredLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rowsAffected := fc()
	attrs := []any{
		"elapsed", elapsed,
		"threshold", g.SlowThreshold,
		"sql", s,
	}
	if rowsAffected == -1 {
		attrs = append(attrs, "rows", "-")
	} else {
		attrs = append(attrs, "rows", rowsAffected)
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		g.logger.ErrorContext(ctx, "sql error", append(attrs, tint.Err(err))...)
	case g.SlowThreshold != 0 && elapsed > g.SlowThreshold:
		g.logger.WarnContext(ctx, "slow sql", attrs...)
	default:
		g.logger.DebugContext(ctx, "sql completed", attrs...)
	}
}
