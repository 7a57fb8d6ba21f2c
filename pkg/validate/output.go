// Package validate guards the engine's data surfaces: agent output
// validation, identifier syntax, and log-safe sanitization of
// user-derived values.
package validate

import (
	"errors"
	"fmt"
	"strings"
)

// MaxOutputBytes caps a single node output. Larger outputs are rejected
// rather than truncated — silently dropping agent text corrupts downstream
// extraction.
const MaxOutputBytes = 4 * 1024 * 1024

var (
	// ErrOutputTooLarge is returned when an output exceeds MaxOutputBytes.
	ErrOutputTooLarge = errors.New("output exceeds maximum allowed size")
	// ErrControlCharacters is returned for dangerous ASCII control chars.
	ErrControlCharacters = errors.New("output contains dangerous control characters")
	// ErrUnicodeManipulation is returned for directional overrides,
	// zero-width characters and BOMs.
	ErrUnicodeManipulation = errors.New("output contains Unicode manipulation characters")
)

// CheckOutput validates an agent output string. Allowed control characters
// are HT, LF and CR; every other C0 byte is rejected, as are Unicode
// directional overrides (U+202A–U+202E, U+2066–U+2069), zero-width
// characters (U+200B–U+200D) and the BOM (U+FEFF).
func CheckOutput(s string) error {
	if len(s) > MaxOutputBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrOutputTooLarge, len(s), MaxOutputBytes)
	}
	for _, r := range s {
		switch {
		case r < 0x20 && r != '\t' && r != '\n' && r != '\r':
			return fmt.Errorf("%w: U+%04X", ErrControlCharacters, r)
		case r >= 0x202A && r <= 0x202E,
			r >= 0x2066 && r <= 0x2069,
			r >= 0x200B && r <= 0x200D,
			r == 0xFEFF:
			return fmt.Errorf("%w: U+%04X", ErrUnicodeManipulation, r)
		}
	}
	return nil
}

// LogSafe strips CR and LF from a user-derived value before log emission,
// preventing log forging.
func LogSafe(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)
}

// StripControl removes dangerous control characters from free-text fields
// while keeping HT, LF and CR. Used when deep-walking submitted workflows.
func StripControl(s string) string {
	needsWork := false
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			needsWork = true
			break
		}
	}
	if !needsWork {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
