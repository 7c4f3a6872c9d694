package sentryconnect

import (
	"os"

	"github.com/getsentry/sentry-go"
)

// InitSentry returns a hub tagged with moduleName, or nil when dsn is empty.
// Sentry is optional for the relay: without a DSN errors are only logged.
func InitSentry(dsn, version, moduleName string) (*sentry.Hub, error) {
	if dsn == "" {
		return nil, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		TracesSampleRate: 1.0,
		AttachStacktrace: true,
		Release:          version,
		Debug:            os.Getenv("SENTRY_DEBUG") == "true",
	})
	if err != nil {
		return nil, err
	}

	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("module", moduleName)
	})

	return hub, nil
}
