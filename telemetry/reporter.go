// Package telemetry carries the gateway's observability side effects:
// error reporting and per-request visit events. Everything here is
// fire-and-forget; nothing may delay or fail a response.
package telemetry

import (
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// Reporter receives errors the gateway cannot surface to the caller
// (settlement failures, telemetry delivery failures).
type Reporter interface {
	CaptureException(err error, extra map[string]interface{})
}

// NopReporter discards everything. Used in tests and when no DSN is set.
type NopReporter struct{}

// CaptureException implements Reporter.
func (NopReporter) CaptureException(error, map[string]interface{}) {}

// SentryReporter forwards errors to Sentry.
type SentryReporter struct{}

// NewSentryReporter initializes the Sentry SDK and returns a reporter.
// With an empty DSN it degrades to a logging no-op so local runs work
// without a Sentry project.
func NewSentryReporter(dsn string, logger *slog.Logger) (Reporter, error) {
	if dsn == "" {
		return logReporter{logger: logger}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		SendDefaultPII:   true,
		AttachStacktrace: true,
	}); err != nil {
		return nil, err
	}
	return SentryReporter{}, nil
}

// CaptureException implements Reporter.
func (SentryReporter) CaptureException(err error, extra map[string]interface{}) {
	sentry.WithScope(func(scope *sentry.Scope) {
		if len(extra) > 0 {
			scope.SetExtras(extra)
		}
		sentry.CaptureException(err)
	})
}

// logReporter writes reports to the structured log only.
type logReporter struct {
	logger *slog.Logger
}

func (r logReporter) CaptureException(err error, extra map[string]interface{}) {
	logger := r.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("captured exception", "error", err, "extra", extra)
}
