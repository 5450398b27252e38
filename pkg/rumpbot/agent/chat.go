package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/memory"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/session"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/usage"
)

const (
	actionOpenTag  = "<RUMPBOT_ACTION>"
	actionCloseTag = "</RUMPBOT_ACTION>"
	memoryOpenTag  = "<TIFFBOT_MEMORY>"
	memoryCloseTag = "</TIFFBOT_MEMORY>"

	// placeholderReply stands in when stripping the blocks leaves nothing.
	placeholderReply = "Working on it..."
)

// WorkRequest is the chat tier's verdict that a message needs real work.
type WorkRequest struct {
	Task    string
	Context string
	Urgency string // "quick" or "normal"
}

// ChatReply is what the chat tier hands back to the message handler.
type ChatReply struct {
	// Text is the assistant's reply with the control blocks stripped.
	Text string

	// WorkRequest is non-nil when the reply carried a valid action block.
	WorkRequest *WorkRequest

	// MemoryNote is the trimmed payload of a memory block, or "".
	MemoryNote string
}

// ChatAgent is the thin persona layer over the invoker: it prepends memory
// context, keeps the chat-tier session alive, and classifies replies into
// chat-only or work-bearing.
type ChatAgent struct {
	caller   assistantCaller
	sessions *session.Store
	memory   *memory.Store
	usage    *usage.Logger
	cfg      *Config
	logger   *slog.Logger
}

// NewChatAgent wires the chat tier. memoryStore and usageLog may be nil in
// tests.
func NewChatAgent(caller assistantCaller, sessions *session.Store, memoryStore *memory.Store, usageLog *usage.Logger, cfg *Config, logger *slog.Logger) *ChatAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatAgent{
		caller:   caller,
		sessions: sessions,
		memory:   memoryStore,
		usage:    usageLog,
		cfg:      cfg,
		logger:   logger.With("component", "chat"),
	}
}

// HandleMessage runs one chat-tier call and classifies the reply.
func (c *ChatAgent) HandleMessage(ctx context.Context, chatID, text string) (*ChatReply, error) {
	prompt := text
	if c.memory != nil {
		if block := c.memory.ContextBlock(chatID); block != "" {
			prompt = block + "\n" + text
		}
	}

	req := invoker.Request{
		Prompt:       prompt,
		SystemPrompt: c.systemPrompt(),
		Model:        c.cfg.Tiers.Chat.Model,
		SessionID:    c.sessions.SessionID(chatID, invoker.TierChat),
		WorkDir:      c.cfg.WorkDir,
		MaxTurns:     c.cfg.Tiers.Chat.MaxTurns,
		Timeout:      c.cfg.Tiers.Chat.Timeout(),
	}

	started := time.Now()
	res, err := c.caller.Call(ctx, req)
	c.recordUsage(chatID, res, err, time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("chat call: %w", err)
	}

	if res.SessionID != "" {
		c.sessions.Set(chatID, res.SessionID, c.cfg.WorkDir, invoker.TierChat)
		if err := c.sessions.Save(); err != nil {
			c.logger.Warn("failed to persist sessions", "error", err)
		}
	}

	parsed := parseReply(res.Text)
	if parsed.actionErr != nil {
		c.logger.Warn("ignoring malformed action block", "chat_id", chatID, "error", parsed.actionErr)
	}

	if parsed.memoryNote != "" && c.memory != nil {
		if _, err := c.memory.Add(chatID, parsed.memoryNote, memory.SourceAuto); err != nil {
			c.logger.Warn("failed to save memory note", "chat_id", chatID, "error", err)
		}
	}

	return &ChatReply{
		Text:        parsed.text,
		WorkRequest: parsed.work,
		MemoryNote:  parsed.memoryNote,
	}, nil
}

func (c *ChatAgent) systemPrompt() string {
	sp := fmt.Sprintf(chatSystemPrompt, c.cfg.Name)
	if c.cfg.Instructions != "" {
		sp += "\n\n" + c.cfg.Instructions
	}
	return sp
}

// recordUsage appends the invocation record for one chat turn. Calls that
// failed outright still get a record with the elapsed wall time.
func (c *ChatAgent) recordUsage(chatID string, res *invoker.Result, callErr error, elapsed time.Duration) {
	if c.usage == nil {
		return
	}
	rec := usage.Record{
		ChatID:     chatID,
		Tier:       invoker.TierChat,
		DurationMS: elapsed.Milliseconds(),
		IsError:    callErr != nil,
	}
	if res != nil {
		if res.DurationMS > 0 {
			rec.DurationMS = res.DurationMS
		}
		rec.DurationAPIMS = res.DurationAPIMS
		rec.CostUSD = res.CostUSD
		rec.NumTurns = res.NumTurns
		rec.StopReason = res.StopReason
		rec.IsError = res.IsError
		rec.ModelUsage = res.ModelUsage
	}
	if err := c.usage.Record(rec); err != nil {
		c.logger.Warn("failed to record invocation", "error", err)
	}
}

// actionPayload is the JSON schema inside an action block. Unknown fields
// are ignored.
type actionPayload struct {
	Type    string `json:"type"`
	Task    string `json:"task"`
	Context string `json:"context"`
	Urgency string `json:"urgency"`
}

type parsedReply struct {
	text       string
	work       *WorkRequest
	memoryNote string
	actionErr  error
}

// parseReply strips the control blocks from an assistant reply and decodes
// them. A malformed action block is reported in actionErr but never fails
// the reply.
func parseReply(raw string) parsedReply {
	var out parsedReply

	text := raw
	if payload, rest, ok := extractBlock(text, actionOpenTag, actionCloseTag); ok {
		text = rest
		work, err := decodeAction(payload)
		if err != nil {
			out.actionErr = err
		} else {
			out.work = work
		}
	}
	if payload, rest, ok := extractBlock(text, memoryOpenTag, memoryCloseTag); ok {
		text = rest
		out.memoryNote = strings.TrimSpace(payload)
	}

	out.text = strings.TrimSpace(text)
	if out.text == "" {
		out.text = placeholderReply
	}
	return out
}

// extractBlock removes the first openTag..closeTag block from text,
// returning its inner payload and the remaining text.
func extractBlock(text, openTag, closeTag string) (payload, rest string, found bool) {
	start := strings.Index(text, openTag)
	if start < 0 {
		return "", text, false
	}
	end := strings.Index(text[start+len(openTag):], closeTag)
	if end < 0 {
		return "", text, false
	}
	end += start + len(openTag)
	payload = text[start+len(openTag) : end]
	rest = text[:start] + text[end+len(closeTag):]
	return payload, rest, true
}

func decodeAction(payload string) (*WorkRequest, error) {
	var action actionPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &action); err != nil {
		return nil, fmt.Errorf("decode action block: %w", err)
	}
	if action.Type != "work_request" {
		return nil, fmt.Errorf("unexpected action type %q", action.Type)
	}
	task := strings.TrimSpace(action.Task)
	if task == "" {
		return nil, fmt.Errorf("action block has empty task")
	}
	urgency := action.Urgency
	if urgency != "quick" {
		urgency = "normal"
	}
	return &WorkRequest{Task: task, Context: action.Context, Urgency: urgency}, nil
}
