package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "adbot/internal/transport"
)

// classify turns telebot errors into *kit.Error. Network failures pass
// through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return kit.NewError(429, fe.Error(), time.Duration(fe.RetryAfter)*time.Second, err)
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		// The old chat id is dead once a group migrates.
		return &kit.Error{Code: 400, Description: ge.Error(), Kind: kit.KindChatNotFound, Err: err}
	}
	var te *tele.Error
	if errors.As(err, &te) {
		desc := te.Description
		if desc == "" {
			desc = te.Message
		}
		return kit.NewError(te.Code, desc, 0, err)
	}
	return err
}

func convertUser(u *tele.User) kit.User {
	if u == nil {
		return kit.User{}
	}
	return kit.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName, IsBot: u.IsBot}
}

func convertMember(m *tele.ChatMember) kit.ChatMember {
	if m == nil {
		return kit.ChatMember{}
	}
	return kit.ChatMember{User: convertUser(m.User), Status: kit.MemberStatus(m.Role)}
}

func convertMemberUpdate(u *tele.ChatMemberUpdate) *kit.ChatMemberUpdate {
	out := &kit.ChatMemberUpdate{
		Old: convertMember(u.OldChatMember),
		New: convertMember(u.NewChatMember),
	}
	if u.Chat != nil {
		out.ChatID = u.Chat.ID
		out.ChatType = kit.ChatType(u.Chat.Type)
		out.ChatTitle = u.Chat.Title
	}
	if u.Sender != nil {
		out.FromID = u.Sender.ID
	}
	return out
}

func convertMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		Caption:  m.Caption,
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
		out.ChatType = kit.ChatType(m.Chat.Type)
		out.ChatTitle = m.Chat.Title
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	switch {
	case m.Photo != nil:
		out.Media = &kit.Media{Kind: kit.MediaPhoto, Ref: m.Photo.FileID, Caption: m.Caption}
	case m.Video != nil:
		out.Media = &kit.Media{Kind: kit.MediaVideo, Ref: m.Video.FileID, Caption: m.Caption}
	case m.Document != nil:
		out.Media = &kit.Media{Kind: kit.MediaDocument, Ref: m.Document.FileID, Caption: m.Caption}
	}
	if len(m.UsersJoined) > 0 {
		for i := range m.UsersJoined {
			out.NewMembers = append(out.NewMembers, convertUser(&m.UsersJoined[i]))
		}
	} else if m.UserJoined != nil {
		out.NewMembers = []kit.User{convertUser(m.UserJoined)}
	}
	if m.UserLeft != nil {
		u := convertUser(m.UserLeft)
		out.LeftMember = &u
	}
	return out
}

const htmlMode = "HTML"

// splitTelegramText splits long messages into chunks that are safe to send.
// It prefers newline boundaries and avoids splitting inside HTML tags when
// parseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, htmlMode) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
