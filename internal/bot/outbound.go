package bot

import (
	"context"
	"errors"
	"strings"

	"adbot/internal/resilience"
	"adbot/internal/transport"
	logx "adbot/pkg/logx"
)

const (
	opReply  = "telegram.reply"
	opDelete = "telegram.delete"
	// Membership lookups share one breaker so a failing platform stops
	// admin checks quickly.
	breakerMembers = "telegram.members"
)

func target(msg *transport.Message) transport.ChatTarget {
	return transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
}

func (b *Bot) reply(ctx context.Context, to transport.ChatTarget, text string) error {
	err := b.exec.Retry(ctx, opReply, func(ctx context.Context) error {
		if err := b.limiter.Acquire(ctx); err != nil {
			return resilience.Rejected(err)
		}
		_, err := b.client.SendText(ctx, to, text, &transport.SendOptions{DisablePreview: true})
		return err
	})
	if resilience.IsRejected(err) {
		b.log.Warn("reply dropped, no api slot", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return err
	}
	if err != nil {
		b.metrics.RecordError("reply")
		b.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
	return err
}

func alreadyDeleted(err error) bool {
	var te *transport.Error
	return errors.As(err, &te) && strings.Contains(strings.ToLower(te.Description), "message to delete not found")
}

// deleteMessage reports whether the message was removed.
func (b *Bot) deleteMessage(ctx context.Context, chatID int64, messageID int) bool {
	log := b.log.With(logx.Int64("chat_id", chatID), logx.Int("message_id", messageID))
	err := b.exec.Retry(ctx, opDelete, func(ctx context.Context) error {
		if err := b.limiter.Acquire(ctx); err != nil {
			return resilience.Rejected(err)
		}
		return b.client.DeleteMessage(ctx, chatID, messageID)
	})
	switch {
	case err == nil:
		return true
	case resilience.IsRejected(err):
		log.Warn("delete dropped, no api slot", logx.Err(err))
	case alreadyDeleted(err):
		log.Warn("message was already deleted")
	case transport.IsNotEnoughRights(err):
		log.Warn("no rights to delete messages")
	default:
		b.metrics.RecordError("delete")
		log.Error("delete message failed", logx.Err(err))
	}
	return false
}

// isGroupAdmin treats lookup failures as "not an admin".
func (b *Bot) isGroupAdmin(ctx context.Context, chatID, userID int64) bool {
	m, err := resilience.GuardValue(ctx, b.exec, breakerMembers, func(ctx context.Context) (transport.ChatMember, error) {
		if err := b.limiter.Acquire(ctx); err != nil {
			return transport.ChatMember{}, resilience.Rejected(err)
		}
		return b.client.GetChatMember(ctx, chatID, userID)
	})
	if resilience.IsRejected(err) {
		return false
	}
	if err != nil {
		b.metrics.RecordError("admin_check")
		b.log.Error("admin check failed", logx.Int64("chat_id", chatID), logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return m.IsAdmin()
}
