package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	slogzap "github.com/samber/slog-zap/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogOptions selects the default slog handler. Zero values mean: info level, text
// format, std backend.
type LogOptions struct {
	Level   string // debug | info | warn | error
	Format  string // text | json (std backend only)
	Backend string // std | zap
	Service string
	Version string
	Output  io.Writer
}

// LogOptionsFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_BACKEND.
func LogOptionsFromEnv(service, version string) LogOptions {
	return LogOptions{
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  os.Getenv("LOG_FORMAT"),
		Backend: os.Getenv("LOG_BACKEND"),
		Service: service,
		Version: version,
	}
}

// ParseLevel maps a LOG_LEVEL value; ok is false for unknown values (info is returned).
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "info", "":
		return slog.LevelInfo, true
	default:
		return slog.LevelInfo, false
	}
}

// InitLogging builds the handler for opts, installs it as the slog default and returns it.
func InitLogging(opts LogOptions) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	lvl, known := ParseLevel(opts.Level)

	var h slog.Handler
	switch strings.ToLower(opts.Backend) {
	case "zap":
		h = newZapHandler(out, lvl)
	default:
		if strings.ToLower(opts.Format) == "json" {
			h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})
		} else {
			h = slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})
		}
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", opts.Service),
		slog.String("version", opts.Version),
		slog.String("instance_id", instanceID()),
	})
	logger := slog.New(h)
	slog.SetDefault(logger)
	if !known {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", opts.Level))
	}
	return logger
}

func newZapHandler(out io.Writer, lvl slog.Level) slog.Handler {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(out), toZapLevel(lvl))
	// chat floods produce bursts of identical warnings
	core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 10)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return slogzap.Option{Level: lvl, Logger: z}.NewZapHandler()
}

func toZapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl <= slog.LevelDebug:
		return zapcore.DebugLevel
	case lvl == slog.LevelInfo:
		return zapcore.InfoLevel
	case lvl == slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func instanceID() string {
	hn, _ := os.Hostname()
	return hn + "-" + uuid.New().String()[:8]
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// NewCorrelationID returns a fresh random id.
func NewCorrelationID() string { return uuid.NewString() }

// LoggerWithCorr returns the default logger with corr, trace_id and span_id attributes when present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := GetCorrelation(ctx); id != "" {
		l = l.With(slog.String("corr", id))
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		l = l.With(slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	}
	return l
}
