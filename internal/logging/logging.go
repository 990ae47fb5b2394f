package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. Development gets a human-readable console writer,
// every other environment gets JSON lines on stdout.
func New(environment, level string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if environment == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}
	return NewWithWriter(out, level)
}

// NewWithWriter builds a logger writing to w at the given level.
func NewWithWriter(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("service", "mailsync").
		Logger()
}

// ParseLevel maps trace|debug|info|warn|error to a zerolog level. Unknown values fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// MaskEmail hides most of an address while keeping it recognizable in logs,
// e.g. "alice@example.com" becomes "a***e@e*****e.c*m".
func MaskEmail(s string) string {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return s
	}
	parts := strings.Split(s[at+1:], ".")
	for i, p := range parts {
		parts[i] = maskPart(p)
	}
	return maskPart(s[:at]) + "@" + strings.Join(parts, ".")
}

func maskPart(part string) string {
	if len(part) <= 1 {
		return "*"
	}
	if len(part) == 2 {
		return part[:1] + "*"
	}
	return part[:1] + strings.Repeat("*", len(part)-2) + part[len(part)-1:]
}
