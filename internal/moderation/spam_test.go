package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "adbot/pkg/logx"
)

type joinsFunc func(userID, chatID int64, window time.Duration) (bool, error)

func (f joinsFunc) IsNewUser(_ context.Context, userID, chatID int64, window time.Duration) (bool, error) {
	return f(userID, chatID, window)
}

func TestCountLinks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int
	}{
		{"hello", 0},
		{"see https://example.com", 1},
		{"HTTP://A.B and t.me/chan", 2},
		{"ping @someone and @other", 2},
		{"mail me at a@b", 1},
	}
	for _, tt := range tests {
		if got := CountLinks(tt.in); got != tt.want {
			t.Fatalf("CountLinks(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDetectorCheck(t *testing.T) {
	t.Parallel()
	newUser := joinsFunc(func(userID, _ int64, _ time.Duration) (bool, error) { return userID == 7, nil })
	cfg := Config{
		Keywords:              []string{"Casino", " "},
		MaxURLsPerMessage:     2,
		BlockNewUsersWithURLs: true,
	}
	d := NewDetector(cfg, newUser, logx.Nop())

	tests := []struct {
		name   string
		text   string
		user   int64
		spam   bool
		reason Reason
	}{
		{"empty", "   ", 7, false, ReasonNone},
		{"keyword any case", "Best CASINO in town", 1, true, ReasonKeyword},
		{"links at limit", "http://a http://b", 1, false, ReasonNone},
		{"links above limit", "http://a http://b t.me/c", 1, true, ReasonTooManyLinks},
		{"new user with link", "join t.me/x", 7, true, ReasonNewUserLink},
		{"new user without link", "hello all", 7, false, ReasonNone},
		{"old user with link", "join t.me/x", 1, false, ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spam, reason := d.Check(context.Background(), tt.text, tt.user, -100)
			if spam != tt.spam || reason != tt.reason {
				t.Fatalf("Check(%q) = %v, %q, want %v, %q", tt.text, spam, reason, tt.spam, tt.reason)
			}
		})
	}
}

func TestDetectorLookupErrorIsNotSpam(t *testing.T) {
	t.Parallel()
	failing := joinsFunc(func(int64, int64, time.Duration) (bool, error) { return false, errors.New("db down") })
	d := NewDetector(Config{MaxURLsPerMessage: 5, BlockNewUsersWithURLs: true}, failing, logx.Nop())
	if spam, _ := d.Check(context.Background(), "https://x", 1, 1); spam {
		t.Fatalf("Check() = spam, want not spam on lookup error")
	}
}

func TestDetectorDefaultWindowAndApply(t *testing.T) {
	t.Parallel()
	var seen time.Duration
	joins := joinsFunc(func(_, _ int64, w time.Duration) (bool, error) { seen = w; return false, nil })
	d := NewDetector(Config{MaxURLsPerMessage: 5, BlockNewUsersWithURLs: true}, joins, logx.Nop())
	d.Check(context.Background(), "@x", 1, 1)
	if seen != DefaultNewUserWindow {
		t.Fatalf("window = %v, want %v", seen, DefaultNewUserWindow)
	}

	d.Apply(Config{Keywords: []string{"promo"}})
	if spam, reason := d.Check(context.Background(), "PROMO code", 1, 1); !spam || reason != ReasonKeyword {
		t.Fatalf("after Apply Check() = %v, %q", spam, reason)
	}
	if spam, _ := d.Check(context.Background(), "@a", 1, 1); !spam {
		t.Fatalf("after Apply max links 0 should flag one link")
	}
}
