// Package transport defines the chat platform surface the bot consumes: a
// small set of outbound calls, inbound updates and classified errors.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage      UpdateKind = "message"
	UpdateMyChatMember UpdateKind = "my_chat_member"
	UpdateChatMember   UpdateKind = "chat_member"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Member  *ChatMemberUpdate
}

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSuperGroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

func (t ChatType) IsGroup() bool { return t == ChatGroup || t == ChatSuperGroup }

type User struct {
	ID        int64
	Username  string
	FirstName string
	IsBot     bool
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Media is an outbound or inbound attachment. Ref is a platform file id or
// an http(s) URL.
type Media struct {
	Kind    MediaKind
	Ref     string
	Caption string
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	ChatType     ChatType
	ChatTitle    string
	FromID       int64
	FromUsername string
	Text         string
	Caption      string
	Media        *Media

	// Service messages.
	NewMembers []User
	LeftMember *User
}

// Body returns the text, or the caption for media messages.
func (m *Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

type ChatMember struct {
	User   User
	Status MemberStatus
}

func (m ChatMember) IsAdmin() bool {
	return m.Status == StatusCreator || m.Status == StatusAdministrator
}

// IsPresent reports whether the member is in the chat.
func (m ChatMember) IsPresent() bool {
	switch m.Status {
	case StatusCreator, StatusAdministrator, StatusMember, StatusRestricted:
		return true
	default:
		return false
	}
}

type ChatMemberUpdate struct {
	ChatID    int64
	ChatType  ChatType
	ChatTitle string
	FromID    int64
	Old       ChatMember
	New       ChatMember
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Client is the outbound half of the platform. Every call may fail with an
// *Error.
type Client interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, media Media, opt *SendOptions) (MessageRef, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	GetChatMember(ctx context.Context, chatID, userID int64) (ChatMember, error)
	GetSelf(ctx context.Context) (User, error)
}

type Adapter interface {
	Client
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
