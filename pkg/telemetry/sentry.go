// sentry.go — Sentry error tracking for the CTO-Player server.
//
// Usage in main.go:
//
//	telemetry.InitSentry(cfg.SentryDSN, version)
//	defer sentry.Flush(2 * time.Second)
//
// Usage at error sites:
//
//	telemetry.CaptureError(err, map[string]string{"operation": "relay"})
package telemetry

import (
	"fmt"
	"os"

	"github.com/getsentry/sentry-go"
)

// InitSentry initializes the Sentry SDK. Call once at process startup.
// dsn may be empty — Sentry is then disabled and this is not an error.
func InitSentry(dsn, release string) error {
	env := os.Getenv("CTOPLAYER_ENV")
	if env == "" {
		env = "development"
	}

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "[telemetry] SENTRY_DSN not set — Sentry disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	return nil
}

// CaptureError reports err with the given tags. No-op when Sentry is
// disabled or err is nil.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}
