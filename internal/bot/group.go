package bot

import (
	"context"
	"strings"

	"adbot/internal/storage"
	"adbot/internal/transport"
	"adbot/internal/validate"
	logx "adbot/pkg/logx"
)

const unknownGroupTitle = "Unknown group"

func messageKind(msg *transport.Message) string {
	switch {
	case len(msg.NewMembers) > 0:
		return "join"
	case msg.LeftMember != nil:
		return "leave"
	case msg.Media != nil:
		return string(msg.Media.Kind)
	case msg.Text != "":
		return "text"
	default:
		return "other"
	}
}

func groupTitle(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return unknownGroupTitle
}

func (b *Bot) handleMessage(ctx context.Context, msg *transport.Message) {
	b.metrics.RecordMessage(messageKind(msg))
	switch {
	case msg.ChatType == transport.ChatPrivate:
		b.handlePrivate(ctx, msg)
	case msg.ChatType.IsGroup():
		b.handleGroup(ctx, msg)
	}
}

func (b *Bot) handleGroup(ctx context.Context, msg *transport.Message) {
	cfg := b.config()
	log := b.log.With(logx.Int64("chat_id", msg.ChatID))

	if err := b.store.AddOrUpdateGroup(ctx, msg.ChatID, groupTitle(msg.ChatTitle)); err != nil {
		log.Error("track group failed", logx.Err(err))
	}

	if len(msg.NewMembers) > 0 {
		for _, u := range msg.NewMembers {
			if err := b.store.TrackUserJoin(ctx, u.ID, msg.ChatID); err != nil {
				log.Error("track join failed", logx.Int64("user_id", u.ID), logx.Err(err))
				continue
			}
			log.Info("user joined", logx.Int64("user_id", u.ID))
		}
		if cfg.AutoDeleteJoinLeave && b.deleteMessage(ctx, msg.ChatID, msg.ID) {
			b.count(ctx, log, "join", b.store.IncrementDeletedJoin, msg.ChatID)
		}
		return
	}
	if msg.LeftMember != nil {
		log.Info("user left", logx.Int64("user_id", msg.LeftMember.ID))
		if cfg.AutoDeleteJoinLeave && b.deleteMessage(ctx, msg.ChatID, msg.ID) {
			b.count(ctx, log, "leave", b.store.IncrementDeletedLeave, msg.ChatID)
		}
		return
	}

	if cfg.SpamDetection && msg.FromID != cfg.OwnerUserID && b.spam != nil {
		if spam, reason := b.spam.Check(ctx, msg.Body(), msg.FromID, msg.ChatID); spam {
			b.metrics.RecordSpam()
			log.Info("deleting spam",
				logx.Int64("user_id", msg.FromID),
				logx.String("reason", string(reason)),
				logx.String("text", validate.SanitizeForLog(msg.Body(), 0)),
			)
			if b.deleteMessage(ctx, msg.ChatID, msg.ID) {
				b.count(ctx, log, "spam", b.store.IncrementDeletedSpam, msg.ChatID)
			}
			return
		}
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		b.handleCommand(ctx, msg)
	}
}

func (b *Bot) count(ctx context.Context, log logx.Logger, what string, inc func(context.Context, int64) error, chatID int64) {
	if !b.config().Statistics {
		return
	}
	if err := inc(ctx, chatID); err != nil {
		log.Error("update statistics failed", logx.String("counter", what), logx.Err(err))
	}
}

func (b *Bot) handlePrivate(ctx context.Context, msg *transport.Message) {
	owner := msg.FromID == b.config().OwnerUserID
	if owner && msg.Media != nil {
		b.addMediaAd(ctx, msg)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	if !owner {
		if b.limiter.IsUserAllowed(msg.FromID) {
			_ = b.reply(ctx, target(msg), introText)
		}
		return
	}
	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		b.handleCommand(ctx, msg)
	}
}

// handleMyMember tracks the bot's own membership changes.
func (b *Bot) handleMyMember(ctx context.Context, u *transport.ChatMemberUpdate) {
	if !u.ChatType.IsGroup() {
		return
	}
	title := groupTitle(u.ChatTitle)
	log := b.log.With(logx.Int64("chat_id", u.ChatID), logx.String("title", title))

	switch u.New.Status {
	case transport.StatusMember, transport.StatusAdministrator:
		if err := b.store.AddOrUpdateGroup(ctx, u.ChatID, title); err != nil {
			log.Error("track group failed", logx.Err(err))
			return
		}
		if u.Old.IsPresent() {
			log.Info("bot membership changed", logx.String("status", string(u.New.Status)))
			return
		}
		log.Info("bot added to group")
		_ = b.reply(ctx, transport.ChatTarget{ChatID: u.ChatID}, welcomeText)
	case transport.StatusLeft, transport.StatusKicked:
		if err := b.store.RemoveGroup(ctx, u.ChatID); err != nil {
			log.Error("deactivate group failed", logx.Err(err))
			return
		}
		log.Info("bot removed from group")
	}
}

// handleChatMember tracks other members joining.
func (b *Bot) handleChatMember(ctx context.Context, u *transport.ChatMemberUpdate) {
	if !u.ChatType.IsGroup() {
		return
	}
	if err := b.store.AddOrUpdateGroup(ctx, u.ChatID, groupTitle(u.ChatTitle)); err != nil {
		b.log.Error("track group failed", logx.Int64("chat_id", u.ChatID), logx.Err(err))
	}
	joined := u.New.Status == transport.StatusMember || u.New.Status == transport.StatusRestricted
	if !joined || u.Old.IsPresent() {
		return
	}
	if err := b.store.TrackUserJoin(ctx, u.New.User.ID, u.ChatID); err != nil {
		b.log.Error("track join failed", logx.Int64("chat_id", u.ChatID), logx.Int64("user_id", u.New.User.ID), logx.Err(err))
	}
}

func (b *Bot) addMediaAd(ctx context.Context, msg *transport.Message) {
	to := target(msg)
	caption, err := validate.Caption(msg.Caption)
	if err != nil {
		_ = b.reply(ctx, to, textMediaNeedsCaption)
		return
	}
	kind := storage.ParseMediaKind(string(msg.Media.Kind))
	if kind == storage.MediaNone || msg.Media.Ref == "" {
		_ = b.reply(ctx, to, textMediaUnsupported)
		return
	}
	ad, err := b.store.AddAdvertisementWithMedia(ctx, caption, kind, msg.Media.Ref)
	if err != nil {
		b.log.Error("add media ad failed", logx.Err(err))
		_ = b.reply(ctx, to, textInternalError)
		return
	}
	b.log.Info("media ad added", logx.Int64("ad_id", ad.ID), logx.String("kind", string(kind)))
	_ = b.reply(ctx, to, formatAdAdded(ad))
}
