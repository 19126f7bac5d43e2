// Package redact keeps caller PII out of log output. Call audio and
// transcripts routinely contain phone numbers and addresses; when redaction
// is enabled, anything logged through these helpers is scrubbed first.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// SetEnabled toggles redaction process-wide.
func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text scrubs emails and phone numbers from free-form text such as
// transcript segments and lead summaries.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Number masks a phone number down to its last three digits, enough to
// correlate log lines without exposing the full number.
func Number(in string) string {
	if !enabled.Load() || len(in) <= 3 {
		return in
	}
	return strings.Repeat("*", len(in)-3) + in[len(in)-3:]
}
