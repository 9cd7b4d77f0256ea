// Package redact scrubs credential-shaped substrings out of text before
// it is persisted or broadcast, grounded on the teacher's
// pkg/masking.MaskingService: fail-closed for Attempt error strings
// (a redaction failure must never leak raw content) and fail-open for
// HITL context bundles (operator review must not be blocked by a
// masking bug). This is a second, defence-in-depth application of the
// credential-detection rule the Critic already enforces structurally.
package redact

import (
	"fmt"
	"log/slog"
	"regexp"
)

// Pattern pairs a compiled detector with its replacement text.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

var builtinPatterns = []Pattern{
	{
		Name:        "aws_access_key",
		Regex:       regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		Replacement: "[REDACTED:aws_access_key]",
	},
	{
		Name:        "generic_api_key_assignment",
		Regex:       regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*['"]?[A-Za-z0-9_\-\.]{8,}['"]?`),
		Replacement: "$1=[REDACTED]",
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]{10,}`),
		Replacement: "Bearer [REDACTED]",
	},
	{
		Name:        "private_key_block",
		Regex:       regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
		Replacement: "[REDACTED:private_key]",
	},
}

// Redactor applies the built-in pattern set. Stateless and safe for
// concurrent use once constructed.
type Redactor struct {
	patterns []Pattern
}

// New compiles the built-in pattern set plus any caller-supplied
// additions.
func New(extra ...Pattern) *Redactor {
	patterns := make([]Pattern, 0, len(builtinPatterns)+len(extra))
	patterns = append(patterns, builtinPatterns...)
	patterns = append(patterns, extra...)
	return &Redactor{patterns: patterns}
}

// AttemptError redacts an Attempt's stored error string. Fail-closed:
// if redaction itself panics, the caller gets a fixed notice instead
// of the raw (possibly credential-bearing) text.
func (r *Redactor) AttemptError(raw string) (out string) {
	if raw == "" {
		return raw
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("redact: panic scrubbing attempt error, redacting fail-closed", "panic", rec)
			out = "[REDACTED: error text could not be safely processed]"
		}
	}()
	return r.apply(raw)
}

// HITLContextBundle redacts the free-text fields of an operator
// escalation bundle. Fail-open: a masking failure must not block
// human review, so on error the original text is returned unmodified.
func (r *Redactor) HITLContextBundle(raw string) string {
	if raw == "" {
		return raw
	}
	masked, err := r.applySafe(raw)
	if err != nil {
		slog.Error("redact: context bundle masking failed, continuing unmasked (fail-open)", "error", err)
		return raw
	}
	return masked
}

func (r *Redactor) apply(s string) string {
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

func (r *Redactor) applySafe(s string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("redact: panic during masking: %v", rec)
		}
	}()
	out = r.apply(s)
	return out, nil
}
