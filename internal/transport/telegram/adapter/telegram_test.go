package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "adbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	short := "hello"
	if got := splitTelegramText(short, 10, ""); len(got) != 1 || got[0] != short {
		t.Fatalf("split(short) = %q", got)
	}

	long := strings.Repeat("a", 25)
	got := splitTelegramText(long, 10, "")
	if len(got) != 3 || got[0] != strings.Repeat("a", 10) || got[2] != "aaaaa" {
		t.Fatalf("split(long) = %q", got)
	}

	lines := "aaaa\nbbbb\ncccc"
	got = splitTelegramText(lines, 10, "")
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Fatalf("split(lines) = %q", got)
	}
}

func TestSplitTelegramTextKeepsTagsWhole(t *testing.T) {
	t.Parallel()
	s := "abcdef<b>bold</b>"
	got := splitTelegramText(s, 8, "HTML")
	if got[0] != "abcdef" {
		t.Fatalf("first chunk = %q, want tag moved to next chunk", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks %q lose text", got)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		kind kit.ErrorKind
	}{
		{"chat not found", tele.ErrChatNotFound, kit.KindChatNotFound},
		{"blocked", tele.ErrBlockedByUser, kit.KindBotBlocked},
		{"kicked", tele.ErrKickedFromSuperGroup, kit.KindChatNotFound},
		{"server", tele.NewError(502, "Bad Gateway"), kit.KindTransient},
		{"wrapped", fmt.Errorf("telebot: %w", tele.ErrChatNotFound), kit.KindChatNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var te *kit.Error
			if err := classify(tt.err); !errors.As(err, &te) || te.Kind != tt.kind {
				t.Fatalf("classify(%v) = %v, want kind %v", tt.err, err, tt.kind)
			}
		})
	}

	plain := errors.New("dial tcp: timeout")
	if got := classify(plain); got != plain {
		t.Fatalf("classify(network) = %v, want passthrough", got)
	}
	if classify(nil) != nil {
		t.Fatalf("classify(nil) != nil")
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:          7,
		Chat:        &tele.Chat{ID: -100, Type: tele.ChatSuperGroup, Title: "Alpha"},
		Sender:      &tele.User{ID: 42, Username: "joe"},
		Caption:     "promo",
		Photo:       &tele.Photo{File: tele.File{FileID: "file-1"}},
		UsersJoined: []tele.User{{ID: 1}, {ID: 2}},
	}
	got := convertMessage(m)
	if got.ChatID != -100 || !got.ChatType.IsGroup() || got.FromID != 42 || got.ChatTitle != "Alpha" {
		t.Fatalf("convertMessage() = %+v", got)
	}
	if got.Media == nil || got.Media.Kind != kit.MediaPhoto || got.Media.Ref != "file-1" {
		t.Fatalf("media = %+v", got.Media)
	}
	if len(got.NewMembers) != 2 || got.Body() != "promo" {
		t.Fatalf("members = %+v body = %q", got.NewMembers, got.Body())
	}
}

func TestConvertMemberUpdate(t *testing.T) {
	t.Parallel()
	u := &tele.ChatMemberUpdate{
		Chat:          &tele.Chat{ID: -5, Type: tele.ChatGroup},
		Sender:        &tele.User{ID: 9},
		OldChatMember: &tele.ChatMember{Role: tele.Left, User: &tele.User{ID: 1}},
		NewChatMember: &tele.ChatMember{Role: tele.Administrator, User: &tele.User{ID: 1}},
	}
	got := convertMemberUpdate(u)
	if got.ChatID != -5 || got.Old.IsPresent() || !got.New.IsAdmin() || got.FromID != 9 {
		t.Fatalf("convertMemberUpdate() = %+v", got)
	}
}
