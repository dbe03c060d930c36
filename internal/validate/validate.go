// Package validate checks user input against platform limits and scrubs
// text before it reaches logs.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength   = 4096
	MaxCaptionLength   = 1024
	MaxAdTextLength    = 2000
	MaxCommandLength   = 100
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 10080
	DefaultLogLength   = 100
)

var ErrInvalid = errors.New("invalid input")

// Error names the offending field. It matches ErrInvalid with errors.Is.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

func (e *Error) Unwrap() error { return ErrInvalid }

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	tokenLike    = regexp.MustCompile(`\d+:[A-Za-z0-9_-]{35}`)
)

// Sanitize removes control characters other than newline and tab.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return controlChars.ReplaceAllString(s, "")
}

// Message sanitises and trims text and checks it fits in max characters.
// max <= 0 means MaxMessageLength.
func Message(text string, max int) (string, error) {
	if max <= 0 {
		max = MaxMessageLength
	}
	if strings.TrimSpace(text) == "" {
		return "", invalid("text", "must not be empty")
	}
	text = Sanitize(text)
	if n := utf8.RuneCountInString(text); n > max {
		return "", invalid("text", "too long (%d > %d)", n, max)
	}
	return strings.TrimSpace(text), nil
}

func Caption(text string) (string, error) {
	out, err := Message(text, MaxCaptionLength)
	if err != nil {
		var ve *Error
		if errors.As(err, &ve) {
			ve.Field = "caption"
		}
	}
	return out, err
}

func AdText(text string) (string, error) {
	text = strings.TrimSpace(Sanitize(text))
	n := utf8.RuneCountInString(text)
	switch {
	case n == 0:
		return "", invalid("ad_text", "must not be empty")
	case n > MaxAdTextLength:
		return "", invalid("ad_text", "too long (%d > %d)", n, MaxAdTextLength)
	}
	return text, nil
}

func Command(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return "", invalid("command", "must not be empty")
	}
	if n := utf8.RuneCountInString(cmd); n > MaxCommandLength {
		return "", invalid("command", "too long (%d > %d)", n, MaxCommandLength)
	}
	return cmd, nil
}

func IntervalMinutes(m int) (int, error) {
	if m < MinIntervalMinutes || m > MaxIntervalMinutes {
		return 0, invalid("interval", "must be within %d..%d minutes", MinIntervalMinutes, MaxIntervalMinutes)
	}
	return m, nil
}

func AdID(id int64) (int64, error) {
	if id <= 0 {
		return 0, invalid("ad_id", "must be positive")
	}
	return id, nil
}

// ChatID rejects 0. Group chat ids are negative.
func ChatID(id int64) (int64, error) {
	if id == 0 {
		return 0, invalid("chat_id", "must not be zero")
	}
	return id, nil
}

func UserID(id int64) (int64, error) {
	if id <= 0 {
		return 0, invalid("user_id", "must be positive")
	}
	return id, nil
}

// SanitizeForLog masks token-shaped substrings and truncates to max runes
// (DefaultLogLength when max <= 0).
func SanitizeForLog(s string, max int) string {
	if s == "" {
		return ""
	}
	if max <= 0 {
		max = DefaultLogLength
	}
	s = tokenLike.ReplaceAllString(s, "[TOKEN]")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
