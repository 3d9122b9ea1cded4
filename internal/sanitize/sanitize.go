package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Rejection reasons surfaced verbatim to callers.
const (
	ReasonEmpty     = "empty"
	ReasonTooLong   = "too long"
	ReasonDangerous = "dangerous content"
)

// dangerousPatterns is the table of content patterns that reject a message
// outright. Matching is case-insensitive. Extend the table, not the
// control flow.
var dangerousPatterns = []string{
	`<script`,            // XSS
	`javascript:`,        // javascript: URI
	`on\w+\s*=`,          // inline event handler (onclick=, onerror=, ...)
	`DROP\s+TABLE`,       // SQL mutation
	`DELETE\s+FROM`,      // SQL mutation
	`INSERT\s+INTO`,      // SQL mutation
	`UPDATE\s+\w+\s+SET`, // SQL mutation
	`;.*rm\s+-rf`,        // shell chaining + destructive command
	`&&.*rm\s+-rf`,       // shell chaining + destructive command
	`\|\|.*rm\s+-rf`,     // shell chaining + destructive command
}

var (
	dangerous  = compileAll(dangerousPatterns)
	markupTags = regexp.MustCompile(`<[^>]+>`)
	command    = regexp.MustCompile(`^/[a-z_]+$`)

	redactAPIKey   = regexp.MustCompile(`sk-[a-zA-Z0-9-_]+`)
	redactDigits   = regexp.MustCompile(`\b\d{10,}\b`)
	redactPassword = regexp.MustCompile(`(?i)password[:\s=]+\S+`)
)

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}
	return compiled
}

// Validator validates and cleans inbound message text before it touches
// any per-identity state. It is stateless; a zero MaxLength falls back to
// the default.
type Validator struct {
	MaxLength int
}

// DefaultMaxLength bounds the trimmed length of an accepted message.
const DefaultMaxLength = 500

// NewValidator returns a validator with the given trimmed-length bound.
func NewValidator(maxLength int) *Validator {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Validator{MaxLength: maxLength}
}

// Validate checks raw text and returns (ok, cleaned, reason). On
// rejection cleaned is empty and reason is one of the Reason constants;
// on acceptance the text is trimmed and stripped of markup tags.
func (v *Validator) Validate(raw string) (bool, string, string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false, "", ReasonEmpty
	}

	maxLength := v.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	// Length bound applies to the trimmed text, before pattern scanning.
	if utf8.RuneCountInString(trimmed) > maxLength {
		return false, "", ReasonTooLong
	}

	for _, pattern := range dangerous {
		if pattern.MatchString(trimmed) {
			return false, "", ReasonDangerous
		}
	}

	return true, markupTags.ReplaceAllString(trimmed, ""), ""
}

// ValidCommand reports whether text is a well-formed bot command such as
// "/reset".
func ValidCommand(text string) bool {
	return command.MatchString(text)
}

// ForLog redacts API-key-shaped tokens, long digit runs, and
// password-like pairs, then truncates to maxLength. Every message text
// that reaches a log line or the journal goes through here first.
func ForLog(text string, maxLength int) string {
	redacted := redactAPIKey.ReplaceAllString(text, "[REDACTED_API_KEY]")
	redacted = redactDigits.ReplaceAllString(redacted, "[REDACTED_NUMBER]")
	redacted = redactPassword.ReplaceAllString(redacted, "password:[REDACTED]")

	if maxLength > 0 && utf8.RuneCountInString(redacted) > maxLength {
		runes := []rune(redacted)
		redacted = string(runes[:maxLength]) + "..."
	}
	return redacted
}
