package healing

import (
	"strings"

	"autopilot/internal/domain"
)

// patternRule maps exception substrings to a failure kind. Rules are tried
// in order and the first match wins.
type patternRule struct {
	kind     domain.ErrorKind
	patterns []string
}

var rules = []patternRule{
	{domain.KindTransient, []string{
		"processtimedoutexception",
		"locktimeoutexception",
		"deadlock found",
		"connection timed out",
		"database is locked",
		"context deadline exceeded",
		"job timed out",
	}},
	{domain.KindFatalDefect, []string{
		"parseerror",
		"syntax error",
		"undefined variable",
		"call to undefined method",
		"undefined:",
		"nil pointer dereference",
		"index out of range",
	}},
	{domain.KindAgentReasoning, []string{
		"specialist agent",
		"invalid action",
		"tool not found",
	}},
}

// ClassifyText sorts an exception message into a failure kind by pattern.
// Text that matches nothing is KindUnknown.
func ClassifyText(text string) domain.ErrorKind {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return r.kind
			}
		}
	}
	return domain.KindUnknown
}

// resolveKind prefers the kind the tool reported and falls back to the text.
func resolveKind(kind domain.ErrorKind, text string) domain.ErrorKind {
	if kind != domain.KindUnknown {
		return kind
	}
	return ClassifyText(text)
}

// splitException returns the first two non-empty lines of an exception:
// the message and, when present, where it happened.
func splitException(exception string) (summary, location string) {
	var lines []string
	for _, l := range strings.Split(exception, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
		if len(lines) == 2 {
			break
		}
	}
	summary, location = "Unknown Error", "Unknown Location"
	if len(lines) > 0 {
		summary = lines[0]
	}
	if len(lines) > 1 {
		location = lines[1]
	}
	return summary, location
}
