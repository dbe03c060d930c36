// Package moderation decides whether a group message is spam.
package moderation

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	logx "adbot/pkg/logx"
)

var linkPattern = regexp.MustCompile(`(?i)(https?://|t\.me/|@\w+)`)

// Reason explains a spam verdict.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonKeyword      Reason = "keyword"
	ReasonTooManyLinks Reason = "too_many_links"
	ReasonNewUserLink  Reason = "new_user_link"
)

type Config struct {
	Keywords              []string
	MaxURLsPerMessage     int
	BlockNewUsersWithURLs bool
	NewUserWindow         time.Duration
}

// DefaultNewUserWindow applies when Config.NewUserWindow is zero.
const DefaultNewUserWindow = 24 * time.Hour

// JoinLookup answers whether a user joined a chat recently.
type JoinLookup interface {
	IsNewUser(ctx context.Context, userID, chatID int64, window time.Duration) (bool, error)
}

type rules struct {
	keywords []string // lower-cased, non-empty
	maxURLs  int
	blockNew bool
	window   time.Duration
}

func compile(cfg Config) *rules {
	r := &rules{
		maxURLs:  cfg.MaxURLsPerMessage,
		blockNew: cfg.BlockNewUsersWithURLs,
		window:   cfg.NewUserWindow,
	}
	if r.window <= 0 {
		r.window = DefaultNewUserWindow
	}
	for _, k := range cfg.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			r.keywords = append(r.keywords, k)
		}
	}
	return r
}

// Detector is safe for concurrent use; Apply swaps the rules atomically.
type Detector struct {
	joins JoinLookup
	log   logx.Logger
	rules atomic.Pointer[rules]
}

func NewDetector(cfg Config, joins JoinLookup, log logx.Logger) *Detector {
	d := &Detector{joins: joins, log: log}
	d.rules.Store(compile(cfg))
	return d
}

func (d *Detector) Apply(cfg Config) { d.rules.Store(compile(cfg)) }

// CountLinks counts URLs, t.me links and @mentions in text.
func CountLinks(text string) int {
	return len(linkPattern.FindAllStringIndex(text, -1))
}

// Check classifies text sent by userID in chatID. A failing join lookup is
// logged and treated as not spam.
func (d *Detector) Check(ctx context.Context, text string, userID, chatID int64) (bool, Reason) {
	if strings.TrimSpace(text) == "" {
		return false, ReasonNone
	}
	r := d.rules.Load()
	log := d.log.With(logx.Int64("user_id", userID), logx.Int64("chat_id", chatID))

	lower := strings.ToLower(text)
	for _, k := range r.keywords {
		if strings.Contains(lower, k) {
			log.Info("spam detected", logx.String("reason", string(ReasonKeyword)))
			return true, ReasonKeyword
		}
	}

	links := CountLinks(text)
	if links > r.maxURLs {
		log.Info("spam detected", logx.String("reason", string(ReasonTooManyLinks)), logx.Int("links", links))
		return true, ReasonTooManyLinks
	}

	if r.blockNew && links > 0 && d.joins != nil {
		isNew, err := d.joins.IsNewUser(ctx, userID, chatID, r.window)
		if err != nil {
			log.Error("new user lookup failed", logx.Err(err))
			return false, ReasonNone
		}
		if isNew {
			log.Info("spam detected", logx.String("reason", string(ReasonNewUserLink)))
			return true, ReasonNewUserLink
		}
	}
	return false, ReasonNone
}
