package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindChatNotFound means the chat is gone or the bot is no longer in it.
	KindChatNotFound
	KindBotBlocked
	KindNotEnoughRights
	KindTransient
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindChatNotFound:
		return "chat_not_found"
	case KindBotBlocked:
		return "bot_blocked"
	case KindNotEnoughRights:
		return "not_enough_rights"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified platform failure.
type Error struct {
	Code        int
	Description string
	Kind        ErrorKind
	RetryAfter  time.Duration
	Err         error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport: %s (code=%d kind=%s)", e.Description, e.Code, e.Kind)
	}
	return fmt.Sprintf("transport: %s (kind=%s)", e.Description, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) StatusCode() int { return e.Code }

func (e *Error) Transient() bool { return e.Kind == KindTransient }

func (e *Error) RetryAfterHint() time.Duration { return e.RetryAfter }

// ChatScoped reports whether the failure concerns one chat only and says
// nothing about the platform's health.
func (e *Error) ChatScoped() bool {
	switch e.Kind {
	case KindChatNotFound, KindBotBlocked, KindNotEnoughRights:
		return true
	default:
		return false
	}
}

// NewError classifies a platform status code and description.
func NewError(code int, description string, retryAfter time.Duration, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Kind:        Classify(code, description),
		RetryAfter:  retryAfter,
		Err:         cause,
	}
}

// Classify maps a status code and description to an ErrorKind. Descriptions
// win over codes because the platform reuses 400 and 403 for several cases.
func Classify(code int, description string) ErrorKind {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "chat not found"),
		strings.Contains(d, "bot was kicked"),
		strings.Contains(d, "bot is not a member"),
		strings.Contains(d, "group chat was deleted"),
		strings.Contains(d, "chat was upgraded"):
		return KindChatNotFound
	case strings.Contains(d, "bot was blocked"),
		strings.Contains(d, "user is deactivated"),
		strings.Contains(d, "can't initiate conversation"):
		return KindBotBlocked
	case strings.Contains(d, "not enough rights"),
		strings.Contains(d, "have no rights"),
		strings.Contains(d, "need administrator rights"),
		strings.Contains(d, "chat_admin_required"),
		strings.Contains(d, "message can't be deleted"):
		return KindNotEnoughRights
	}
	switch {
	case code == 429 || code >= 500:
		return KindTransient
	case code >= 400:
		return KindPermanent
	default:
		return KindUnknown
	}
}

func kindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

func IsChatNotFound(err error) bool    { return kindOf(err) == KindChatNotFound }
func IsBotBlocked(err error) bool      { return kindOf(err) == KindBotBlocked }
func IsNotEnoughRights(err error) bool { return kindOf(err) == KindNotEnoughRights }
func IsTransient(err error) bool       { return kindOf(err) == KindTransient }

// IsChatScoped reports whether err is a per-chat permanent failure.
func IsChatScoped(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.ChatScoped()
}
