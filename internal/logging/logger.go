package logging

import (
	"context"
	"fmt"
	"path"
	"runtime"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey string

const ctxRequestID ctxKey = "REQ_ID"

var LogFormatter = &formatter.Formatter{
	TimestampFormat: "2006-01-02 15:04:05",
	HideKeys:        true,
	FieldsOrder:     []string{"req-id", "service", "subsystem"},
	CallerFirst:     true,
	CustomCallerFormatter: func(f *runtime.Frame) string {
		filename := path.Base(f.File)
		return fmt.Sprintf(" [%s %s():%d]", filename, f.Function, f.Line)
	},
}

// SetupLogger returns the logger of one subsystem. An invalid level falls back to info.
func SetupLogger(level string, subsystem string) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(LogFormatter)
	logger.SetReportCaller(true)
	entry := logger.WithFields(logrus.Fields{
		"service":   "registryd",
		"subsystem": subsystem,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		entry.Warnf("'%s' invalid log level '%s'. Defaulting to info", subsystem, level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return entry
}

// WithRequestID stores the request id used by ConfigureLogger.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

// RequestID returns the request id carried by ctx, if any.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxRequestID).(string); ok {
		return id
	}
	return ""
}

// ConfigureLogger decorates logger with the request id carried by ctx.
func ConfigureLogger(ctx context.Context, logger *logrus.Entry) *logrus.Entry {
	if id := RequestID(ctx); id != "" {
		return logger.WithField("req-id", id)
	}
	if logger.Logger.Level < logrus.DebugLevel {
		return logger
	}
	return logger.WithField("req-id", fmt.Sprintf("unset.%s", uuid.NewString()))
}

// InitContext returns a background context tagged for internal jobs.
func InitContext() context.Context {
	return WithRequestID(context.Background(), fmt.Sprintf("internal.%s", uuid.NewString()))
}
