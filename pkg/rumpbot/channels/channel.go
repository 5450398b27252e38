// Package channels defines the chat-surface boundary: a transport delivers
// incoming messages and can send and edit outgoing ones. The orchestration
// core never talks to a transport directly; it emits status updates that the
// StatusRelay turns into messages and in-place edits.
package channels

import (
	"context"
	"errors"
	"time"
)

// IncomingMessage is a user message received from a transport.
type IncomingMessage struct {
	// ID is the transport's message identifier.
	ID string

	// Channel names the source transport, e.g. "discord".
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name, when the platform has one.
	FromName string

	// ChatID identifies the conversation (channel, group, or DM).
	ChatID string

	// IsGroup is true for multi-user conversations.
	IsGroup bool

	// Content is the message text.
	Content string

	Timestamp time.Time
}

// OutgoingMessage is a reply to send through a transport.
type OutgoingMessage struct {
	Content string

	// ReplyTo references the message being answered, when supported.
	ReplyTo string
}

// Channel is the transport contract. Implementations must be safe for
// concurrent use once connected.
type Channel interface {
	// Name returns the transport identifier, e.g. "discord".
	Name() string

	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection.
	Disconnect() error

	// Send delivers a message to a chat and returns the transport's id for
	// the sent message, which Edit accepts later.
	Send(ctx context.Context, chatID string, msg *OutgoingMessage) (string, error)

	// Edit replaces the content of a previously sent message.
	Edit(ctx context.Context, chatID, messageID, content string) error

	// Receive returns the stream of incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected reports the connection state.
	IsConnected() bool
}

// ErrDisconnected is returned by Send and Edit when the transport is down.
var ErrDisconnected = errors.New("channel is not connected")
