package logging

import (
	"log/slog"
	"regexp"
)

// Redactor masks client identifiers and credentials in log attributes.
// Client identifiers are often API keys, so they are never written in full.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor creates a redactor with the built-in credential patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []redactPattern{
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), "Bearer ***"},
			{regexp.MustCompile(`\bsk-[a-zA-Z0-9]{8,}`), "sk-***"},
			{regexp.MustCompile(`(?i)(password|secret|token)=\S+`), "$1=***"},
		},
	}
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr function.
func (r *Redactor) ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	if a.Key == string(ClientIDKey) {
		return slog.String(a.Key, MaskClientID(a.Value.String()))
	}
	return slog.String(a.Key, r.Redact(a.Value.String()))
}

// Redact replaces credentials in s.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// MaskClientID keeps the first four characters of id so log lines stay
// correlatable without exposing the whole identifier.
func MaskClientID(id string) string {
	const keep = 4
	if len(id) <= keep {
		return "***"
	}
	return id[:keep] + "***"
}
