// Package security provides validation, sanitization, and limits for the batchq package.
package security

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/tobren/batchq/pkg/core"
)

// Limits applied to user-supplied values before storage or dispatch.
const (
	// MaxClassNameLength bounds job class names travelling in payloads
	MaxClassNameLength = 255

	// MaxQueueNameLength bounds logical and concrete queue names
	MaxQueueNameLength = 255

	// MaxRetries is the hard ceiling for the max_retries batch option
	MaxRetries = 100

	// MaxErrorMessageLength bounds error messages persisted on job rows
	MaxErrorMessageLength = 4096
)

// Class and queue names share one grammar: they travel inside queue
// envelopes and Redis key names, so only dotted alphanumeric labels
// with - and _ are accepted.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-]*$`)

// ValidateClassName checks a job class name before it enters the
// registry or a batch payload.
func ValidateClassName(name string) error {
	switch {
	case name == "" || !namePattern.MatchString(name):
		return core.ErrInvalidClassName
	case len(name) > MaxClassNameLength:
		return core.ErrClassNameTooLong
	}
	return nil
}

// ValidateQueueName checks a logical or concrete queue name before it
// is used for routing.
func ValidateQueueName(name string) error {
	switch {
	case name == "" || !namePattern.MatchString(name):
		return core.ErrInvalidQueueName
	case len(name) > MaxQueueNameLength:
		return core.ErrQueueNameTooLong
	}
	return nil
}

const truncationMark = "... (truncated)"

// SanitizeErrorMessage prepares a user job's error for the job row's
// error record: control characters other than line and tab whitespace
// are dropped so the message survives JSON columns and Redis hashes,
// and runaway messages (user jobs embedding whole stack traces or
// response bodies) are cut at MaxErrorMessageLength runes.
func SanitizeErrorMessage(msg string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, msg)

	runes := []rune(cleaned)
	if len(runes) <= MaxErrorMessageLength {
		return cleaned
	}
	return string(runes[:MaxErrorMessageLength-len(truncationMark)]) + truncationMark
}

// ClampRetries bounds a per-batch max_retries option to [0, MaxRetries].
func ClampRetries(n int) int {
	return min(max(n, 0), MaxRetries)
}
