// Package transporttest provides an in-memory transport.Client for tests.
package transporttest

import (
	"context"
	"sync"

	"adbot/internal/transport"
)

// Sent records one outbound message.
type Sent struct {
	Target transport.ChatTarget
	Text   string
	Media  *transport.Media
}

// Client records calls and returns scripted failures. The zero value is not
// usable; call New.
type Client struct {
	mu sync.Mutex

	Self    transport.User
	Members map[[2]int64]transport.ChatMember

	sent    []Sent
	deleted []transport.MessageRef
	calls   int
	nextID  int

	// failures are consumed per chat in order; a nil entry means success.
	failures map[int64][]error
	// sticky errors are returned for every call to the chat.
	sticky map[int64]error
	selfErr error
}

var _ transport.Client = (*Client)(nil)

func New() *Client {
	return &Client{
		Self:     transport.User{ID: 1, Username: "adbot", IsBot: true},
		Members:  map[[2]int64]transport.ChatMember{},
		failures: map[int64][]error{},
		sticky:   map[int64]error{},
	}
}

// FailNext queues errors for the next calls to chatID.
func (c *Client) FailNext(chatID int64, errs ...error) {
	c.mu.Lock()
	c.failures[chatID] = append(c.failures[chatID], errs...)
	c.mu.Unlock()
}

// FailAlways makes every call to chatID return err. A nil err clears it.
func (c *Client) FailAlways(chatID int64, err error) {
	c.mu.Lock()
	if err == nil {
		delete(c.sticky, chatID)
	} else {
		c.sticky[chatID] = err
	}
	c.mu.Unlock()
}

func (c *Client) FailSelf(err error) {
	c.mu.Lock()
	c.selfErr = err
	c.mu.Unlock()
}

func (c *Client) SetMember(chatID int64, m transport.ChatMember) {
	c.mu.Lock()
	c.Members[[2]int64{chatID, m.User.ID}] = m
	c.mu.Unlock()
}

func (c *Client) failure(chatID int64) error {
	c.calls++
	if err := c.sticky[chatID]; err != nil {
		return err
	}
	q := c.failures[chatID]
	if len(q) == 0 {
		return nil
	}
	c.failures[chatID] = q[1:]
	return q[0]
}

func (c *Client) SendText(ctx context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(to.ChatID); err != nil {
		return transport.MessageRef{}, err
	}
	c.nextID++
	c.sent = append(c.sent, Sent{Target: to, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: c.nextID}, nil
}

func (c *Client) SendMedia(ctx context.Context, to transport.ChatTarget, media transport.Media, _ *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(to.ChatID); err != nil {
		return transport.MessageRef{}, err
	}
	c.nextID++
	m := media
	c.sent = append(c.sent, Sent{Target: to, Text: media.Caption, Media: &m})
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: c.nextID}, nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(chatID); err != nil {
		return err
	}
	c.deleted = append(c.deleted, transport.MessageRef{ChatID: chatID, MessageID: messageID})
	return nil
}

func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (transport.ChatMember, error) {
	if err := ctx.Err(); err != nil {
		return transport.ChatMember{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(chatID); err != nil {
		return transport.ChatMember{}, err
	}
	if m, ok := c.Members[[2]int64{chatID, userID}]; ok {
		return m, nil
	}
	return transport.ChatMember{User: transport.User{ID: userID}, Status: transport.StatusMember}, nil
}

func (c *Client) GetSelf(ctx context.Context) (transport.User, error) {
	if err := ctx.Err(); err != nil {
		return transport.User{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selfErr != nil {
		return transport.User{}, c.selfErr
	}
	return c.Self, nil
}

// Sent returns a copy of every successful send.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// SentTo returns successful sends to chatID.
func (c *Client) SentTo(chatID int64) []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Sent
	for _, s := range c.sent {
		if s.Target.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) Deleted() []transport.MessageRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.MessageRef(nil), c.deleted...)
}

// Calls counts every outbound call that reached the client, failed or not.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
