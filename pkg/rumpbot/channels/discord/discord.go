// Package discord binds the channels.Channel contract to Discord using
// discordgo. It handles text in and out, in-place edits for the status
// relay, and guild/channel allowlists.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/channels"
)

// messageLimit is Discord's hard cap per message.
const messageLimit = 2000

// Config holds the Discord transport configuration.
type Config struct {
	// Token is the bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot answers in. Empty
	// means all.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot answers in.
	// Empty means all.
	AllowedChannels []string `yaml:"allowed_channels"`

	// SendTyping shows a typing indicator while a message is handled.
	SendTyping bool `yaml:"send_typing"`
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages  chan *channels.IncomingMessage
	connected atomic.Bool
}

// New creates a disconnected Discord transport.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the gateway connection and starts forwarding messages.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)
	d.logger.Info("connected", "bot", session.State.User.Username, "id", session.State.User.ID)
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("disconnected")
	return nil
}

// Send delivers a message, splitting it when it exceeds the Discord limit.
// The returned id is the last chunk's, so edits target the newest message.
func (d *Discord) Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) (string, error) {
	if d.session == nil || !d.connected.Load() {
		return "", channels.ErrDisconnected
	}

	var lastID string
	for i, chunk := range splitMessage(msg.Content, messageLimit) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && msg.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo}
		}
		sent, err := d.session.ChannelMessageSendComplex(chatID, send)
		if err != nil {
			return "", fmt.Errorf("discord: send: %w", err)
		}
		lastID = sent.ID
	}
	return lastID, nil
}

// Edit replaces the content of a previously sent message.
func (d *Discord) Edit(ctx context.Context, chatID, messageID, content string) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrDisconnected
	}
	if len(content) > messageLimit {
		content = content[:messageLimit]
	}
	if _, err := d.session.ChannelMessageEdit(chatID, messageID, content); err != nil {
		return fmt.Errorf("discord: edit: %w", err)
	}
	return nil
}

// Receive returns the incoming message stream.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected reports whether the gateway is open.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Typing shows the typing indicator in a chat.
func (d *Discord) Typing(chatID string) {
	if d.session == nil || !d.cfg.SendTyping {
		return
	}
	if err := d.session.ChannelTyping(chatID); err != nil {
		d.logger.Debug("typing indicator failed", "error", err)
	}
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if !allowed(d.cfg.AllowedGuilds, m.GuildID) && m.GuildID != "" {
		return
	}
	if !allowed(d.cfg.AllowedChannels, m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("message buffer full, dropping message", "msg_id", m.ID)
	}
}

// allowed reports whether id passes an allowlist. An empty list allows all.
func allowed(list []string, id string) bool {
	if len(list) == 0 {
		return true
	}
	for _, entry := range list {
		if entry == id {
			return true
		}
	}
	return false
}

// splitMessage cuts text into chunks within the Discord limit, preferring to
// break at newlines.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

var _ channels.Channel = (*Discord)(nil)
