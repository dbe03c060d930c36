package bot

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/time/rate"

	"adbot/internal/transport"
	"adbot/internal/validate"
	logx "adbot/pkg/logx"
)

type Access int

const (
	AccessOwner Access = iota
	// AccessGroupAdmin also admits administrators of the group the
	// command was sent in.
	AccessGroupAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Access      Access
	GroupOnly   bool
	Handle      HandlerFunc
}

type Request struct {
	Msg     *transport.Message
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Rest is the raw text after the command word.
	Rest    string
	IsOwner bool
	Private bool
	Logger  logx.Logger
}

func (b *Bot) commands() []Command {
	return []Command{
		{Name: "start", Description: "show help", Access: AccessGroupAdmin, Handle: b.cmdHelp},
		{Name: "help", Description: "show help", Access: AccessGroupAdmin, Handle: b.cmdHelp},
		{Name: "stats", Aliases: []string{"statistics"}, Description: "deleted message statistics", Access: AccessGroupAdmin, Handle: b.cmdStats},
		{Name: "groups", Description: "list groups", Handle: b.cmdGroups},
		{Name: "addad", Usage: "/addad <text>", Description: "add a text ad", Handle: b.cmdAddAd},
		{Name: "listads", Description: "list ads", Handle: b.cmdListAds},
		{Name: "deletead", Usage: "/deletead <id>", Description: "delete an ad", Handle: b.cmdDeleteAd},
		{Name: "togglead", Usage: "/togglead <id>", Description: "enable or disable an ad", Handle: b.cmdToggleAd},
		{Name: "adstats", Description: "ad delivery statistics", Handle: b.cmdAdStats},
		{Name: "setadinterval", Usage: "/setadinterval <minutes|default>", Description: "set this group's ad interval", Access: AccessGroupAdmin, GroupOnly: true, Handle: b.cmdSetAdInterval},
		{Name: "togglegroupads", Description: "enable or disable ads in this group", Access: AccessGroupAdmin, GroupOnly: true, Handle: b.cmdToggleGroupAds},
		{Name: "sendad", Usage: "/sendad [chat_id]", Description: "send the next ad now", Handle: b.cmdSendAd},
		{Name: "health", Description: "health check", Handle: b.cmdHealth},
		{Name: "metrics", Description: "runtime metrics", Handle: b.cmdMetrics},
	}
}

func buildRegistry(cmds []Command) map[string]Command {
	reg := make(map[string]Command, len(cmds)*2)
	for _, c := range cmds {
		reg[c.Name] = c
		for _, a := range c.Aliases {
			if _, exists := reg[a]; !exists {
				reg[a] = c
			}
		}
	}
	return reg
}

// parseCommand splits "/cmd@bot rest" into the lower-cased command word and
// the remainder. A command addressed to a different bot is rejected.
func parseCommand(text, self string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '/' {
		return "", "", false
	}
	head := text
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, rest = text[:i], strings.TrimSpace(text[i:])
	}
	word = strings.ToLower(head[1:])
	if i := strings.IndexByte(word, '@'); i >= 0 {
		to := word[i+1:]
		word = word[:i]
		if self != "" && !strings.EqualFold(to, self) {
			return "", "", false
		}
	}
	if word == "" {
		return "", "", false
	}
	return word, rest, true
}

func (b *Bot) handleCommand(ctx context.Context, msg *transport.Message) {
	if _, err := validate.UserID(msg.FromID); err != nil {
		return
	}
	word, rest, ok := parseCommand(msg.Text, b.username())
	if !ok {
		return
	}
	if _, err := validate.Command(word); err != nil {
		return
	}
	cfg := b.config()
	owner := msg.FromID == cfg.OwnerUserID
	private := msg.ChatType == transport.ChatPrivate

	cmd, found := b.registry[word]
	if !found {
		if private && owner {
			_ = b.reply(ctx, target(msg), textUnknownCommand)
		}
		return
	}
	if !b.admit(ctx, msg) {
		return
	}
	if !owner {
		if cmd.Access != AccessGroupAdmin || private || !b.isGroupAdmin(ctx, msg.ChatID, msg.FromID) {
			return
		}
	}
	if cmd.GroupOnly && private {
		_ = b.reply(ctx, target(msg), textGroupOnly)
		return
	}

	req := &Request{
		Msg:     msg,
		Chat:    target(msg),
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    strings.Fields(rest),
		Rest:    rest,
		IsOwner: owner,
		Private: private,
		Logger: b.log.With(
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(b.log),
		MWRequestLog(b.log),
		MWMetrics(b.metrics),
		MWTimeout(cfg.CommandTimeout),
	)
	if err := h(ctx, req); err != nil {
		b.metrics.RecordError("command")
		_ = b.reply(ctx, req.Chat, textInternalError)
	}
}

// admit applies the per-user and per-chat windows. A denied user gets at
// most one notice per NoticeInterval.
func (b *Bot) admit(ctx context.Context, msg *transport.Message) bool {
	if b.limiter.IsUserAllowed(msg.FromID) && b.limiter.IsChatAllowed(msg.ChatID) {
		return true
	}
	b.log.Debug("command rate limited", logx.Int64("chat_id", msg.ChatID), logx.Int64("from_id", msg.FromID))
	if b.noticeAllowed(msg.FromID) {
		_ = b.reply(ctx, target(msg), textRateLimited)
	}
	return false
}

func (b *Bot) noticeAllowed(userID int64) bool {
	lim, ok := b.notices.Get(userID)
	if !ok {
		lim = rate.NewLimiter(rate.Every(b.config().NoticeInterval), 1)
		if prev, found, _ := b.notices.PeekOrAdd(userID, lim); found {
			lim = prev
		}
	}
	return lim.Allow()
}

// sanitizeCommand converts a name into a platform-safe command:
// [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// menuCommands lists commands for the client menu, admin-usable ones first.
func menuCommands(cmds []Command) []transport.BotCommand {
	sorted := append([]Command(nil), cmds...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Access == AccessGroupAdmin && sorted[j].Access != AccessGroupAdmin
	})
	seen := map[string]bool{}
	out := make([]transport.BotCommand, 0, len(sorted))
	for _, c := range sorted {
		name := sanitizeCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = name
		}
		if c.Access == AccessOwner {
			desc = "🔒 " + desc
		}
		out = append(out, transport.BotCommand{Command: name, Description: desc})
	}
	return out
}
