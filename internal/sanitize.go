package internal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCodeTooLong      = errors.New("code exceeds maximum length")
	ErrDangerousPattern = errors.New("dangerous pattern detected")
)

// SanitizationError explains why a submission was refused before execution.
type SanitizationError struct {
	Kind    error
	Message string
	Details string
}

func (e *SanitizationError) Error() string {
	return e.Message + ": " + e.Details
}

func (e *SanitizationError) Unwrap() error { return e.Kind }

// SanitizeCode applies the length limit and the descriptor's substring
// denylist. The denylist is a textual heuristic that is trivially bypassed;
// it is not a sandbox and nothing downstream relies on it for isolation.
// A non-positive maxCodeLength disables the length check.
func SanitizeCode(code string, denylist []string, maxCodeLength int) error {
	if maxCodeLength > 0 && len(code) > maxCodeLength {
		return &SanitizationError{
			Kind:    ErrCodeTooLong,
			Message: "Code length exceeds maximum limit",
			Details: fmt.Sprintf("Max length allowed is %d", maxCodeLength),
		}
	}

	if pattern, found := matchPatterns(denylist, code); found {
		return &SanitizationError{
			Kind:    ErrDangerousPattern,
			Message: "Potentially dangerous code detected",
			Details: fmt.Sprintf("found %q", pattern),
		}
	}
	return nil
}

func matchPatterns(patterns []string, code string) (string, bool) {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(code, pattern) {
			return pattern, true
		}
	}
	return "", false
}
