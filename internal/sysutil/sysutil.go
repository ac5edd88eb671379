// Package sysutil holds process-level helpers shared by the CLI commands
// and the HTTP layer: global log level wiring and lenient coercion for
// values arriving from the environment or from gateway headers.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel applies a LOG_LEVEL string to the global zerolog logger.
// Unknown values keep the info default so a typo never silences the
// service. "warning" is accepted as an alias for "warn".
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// IsTruthy reports whether a flag-like string means true. It accepts the
// same spellings for boolean form fields and environment toggles:
// "1", "true", "yes", "y", "on" (case-insensitive, trimmed).
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// FirstNonEmpty returns the first value with non-blank content, trimmed.
// The identity helpers use it to fall back through the gateway headers
// (X-Doctor-Name, then X-Doctor-ID) to the demo identity.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
