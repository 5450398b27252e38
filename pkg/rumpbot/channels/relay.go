package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultEditInterval is the minimum gap between in-place edits of the
// status message.
const DefaultEditInterval = 5 * time.Second

// StatusRelay renders orchestration status updates onto a chat. Important
// updates are always posted as new, notifying messages. Transient updates
// share a single status message that is edited in place, throttled to one
// edit per interval; updates arriving inside the window are dropped in favor
// of whatever comes next.
type StatusRelay struct {
	ch       Channel
	chatID   string
	logger   *slog.Logger
	interval time.Duration

	mu          sync.Mutex
	statusMsgID string
	lastEdit    time.Time
}

// NewStatusRelay creates a relay for one chat. interval <= 0 uses
// DefaultEditInterval.
func NewStatusRelay(ch Channel, chatID string, interval time.Duration, logger *slog.Logger) *StatusRelay {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultEditInterval
	}
	return &StatusRelay{
		ch:       ch,
		chatID:   chatID,
		logger:   logger.With("component", "relay", "chat_id", chatID),
		interval: interval,
	}
}

// Post delivers one status update. Safe for concurrent use; never blocks on
// anything but the transport itself.
func (r *StatusRelay) Post(message string, important bool) {
	if message == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if important {
		if _, err := r.ch.Send(ctx, r.chatID, &OutgoingMessage{Content: message}); err != nil {
			r.logger.Warn("failed to post status message", "error", err)
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.statusMsgID == "" {
		id, err := r.ch.Send(ctx, r.chatID, &OutgoingMessage{Content: message})
		if err != nil {
			r.logger.Warn("failed to post status message", "error", err)
			return
		}
		r.statusMsgID = id
		r.lastEdit = time.Now()
		return
	}

	if time.Since(r.lastEdit) < r.interval {
		return
	}
	if err := r.ch.Edit(ctx, r.chatID, r.statusMsgID, message); err != nil {
		r.logger.Warn("failed to edit status message", "error", err)
		return
	}
	r.lastEdit = time.Now()
}

// Reset forgets the status message so the next transient update starts a
// fresh one. Call it when a run finishes.
func (r *StatusRelay) Reset() {
	r.mu.Lock()
	r.statusMsgID = ""
	r.mu.Unlock()
}
