package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		max     int
		want    string
		wantErr bool
	}{
		{"plain", "  hi  ", 0, "hi", false},
		{"empty", " \n ", 0, "", true},
		{"control stripped", "a\x00b\x07c", 0, "abc", false},
		{"newline and tab kept", "a\n\tb", 0, "a\n\tb", false},
		{"at limit", strings.Repeat("x", 10), 10, strings.Repeat("x", 10), false},
		{"over limit", strings.Repeat("x", 11), 10, "", true},
		{"runes not bytes", strings.Repeat("я", 10), 10, strings.Repeat("я", 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Message(tt.in, tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Message() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Fatalf("Message() error = %v, want ErrInvalid", err)
			}
			if got != tt.want {
				t.Fatalf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCaptionField(t *testing.T) {
	t.Parallel()
	_, err := Caption(strings.Repeat("c", MaxCaptionLength+1))
	var ve *Error
	if !errors.As(err, &ve) || ve.Field != "caption" {
		t.Fatalf("Caption() error = %v, want caption field error", err)
	}
}

func TestAdText(t *testing.T) {
	t.Parallel()
	if got, err := AdText("  Buy now  "); err != nil || got != "Buy now" {
		t.Fatalf("AdText() = %q, %v", got, err)
	}
	if _, err := AdText("   "); !errors.Is(err, ErrInvalid) {
		t.Fatalf("AdText(blank) error = %v, want ErrInvalid", err)
	}
	if _, err := AdText(strings.Repeat("a", MaxAdTextLength)); err != nil {
		t.Fatalf("AdText(max) error = %v", err)
	}
	if _, err := AdText(strings.Repeat("a", MaxAdTextLength+1)); err == nil {
		t.Fatalf("AdText(max+1) error = nil")
	}
}

func TestScalars(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		ok   bool
	}{
		{"interval 1", second(IntervalMinutes(1)), true},
		{"interval 10080", second(IntervalMinutes(10080)), true},
		{"interval 0", second(IntervalMinutes(0)), false},
		{"interval 10081", second(IntervalMinutes(10081)), false},
		{"ad id 1", second(AdID(1)), true},
		{"ad id 0", second(AdID(0)), false},
		{"chat id negative", second(ChatID(-100)), true},
		{"chat id 0", second(ChatID(0)), false},
		{"user id 0", second(UserID(0)), false},
		{"command", second(Command("/help")), true},
		{"command long", second(Command("/" + strings.Repeat("x", MaxCommandLength))), false},
	}
	for _, tt := range tests {
		if (tt.err == nil) != tt.ok {
			t.Fatalf("%s: error = %v, want ok=%v", tt.name, tt.err, tt.ok)
		}
	}
}

func second[T any](_ T, err error) error { return err }

func TestSanitizeForLog(t *testing.T) {
	t.Parallel()
	token := "123456:" + strings.Repeat("A", 35)
	if got := SanitizeForLog("token="+token, 0); got != "token=[TOKEN]" {
		t.Fatalf("SanitizeForLog() = %q", got)
	}
	if got := SanitizeForLog(strings.Repeat("x", 12), 10); got != strings.Repeat("x", 10)+"..." {
		t.Fatalf("SanitizeForLog() = %q", got)
	}
	if got := SanitizeForLog("", 5); got != "" {
		t.Fatalf("SanitizeForLog(empty) = %q", got)
	}
}
