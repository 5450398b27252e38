package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/memory"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/registry"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/session"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/usage"
)

// Assistant is the composition root: it owns the stores, the registry, and
// the three tiers, and exposes the one message-handler boundary the chat
// surfaces call into.
type Assistant struct {
	cfg      *Config
	logger   *slog.Logger
	sessions *session.Store
	memory   *memory.Store
	usage    *usage.Logger
	registry *registry.Registry
	chat     *ChatAgent
	orch     *Orchestrator

	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
}

// New builds a fully wired Assistant from config. DataDir is created on
// demand; both SQLite stores share one database file.
func New(cfg *Config, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "rumpbot.db")

	memStore, err := memory.Open(dbPath, logger)
	if err != nil {
		return nil, err
	}
	usageLog, err := usage.Open(dbPath, logger)
	if err != nil {
		memStore.Close()
		return nil, err
	}

	sessions := session.New(filepath.Join(cfg.DataDir, "sessions.json"), logger)
	if err := sessions.Load(); err != nil {
		logger.Warn("failed to load sessions", "error", err)
	}

	caller := invoker.New(cfg.Binary, logger)
	reg := registry.New()

	return &Assistant{
		cfg:       cfg,
		logger:    logger.With("component", "assistant"),
		sessions:  sessions,
		memory:    memStore,
		usage:     usageLog,
		registry:  reg,
		chat:      NewChatAgent(caller, sessions, memStore, usageLog, cfg, logger),
		orch:      NewOrchestrator(caller, reg, usageLog, cfg, logger),
		chatLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Close flushes sessions and releases the databases.
func (a *Assistant) Close() error {
	if err := a.sessions.Save(); err != nil {
		a.logger.Warn("failed to save sessions on close", "error", err)
	}
	a.memory.Close()
	return a.usage.Close()
}

// Registry exposes the shared agent registry to the chat surfaces.
func (a *Assistant) Registry() *registry.Registry { return a.registry }

// HandleMessage processes one incoming chat message end to end and returns
// the final reply text. Status updates stream through status while an
// orchestration runs. At most one orchestration per chat is in flight: the
// per-chat lock serializes the rest.
func (a *Assistant) HandleMessage(ctx context.Context, chatID, text string, status StatusFunc) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	if reply, handled := a.handleCommand(chatID, text); handled {
		return reply, nil
	}

	lock := a.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	reply, err := a.chat.HandleMessage(ctx, chatID, text)
	if err != nil {
		return "", err
	}
	if reply.WorkRequest == nil {
		return reply.Text, nil
	}

	a.logger.Info("starting orchestration",
		"chat_id", chatID,
		"task", truncate(reply.WorkRequest.Task, 120),
		"urgency", reply.WorkRequest.Urgency)
	status.emit(StatusUpdate{Type: StatusProgress, Message: reply.Text})

	summary := a.orch.Execute(ctx, chatID, reply.WorkRequest, status)

	out := summary.Summary
	if summary.NeedsRestart {
		out += "\n\nA service restart looks necessary to pick up these changes."
	}
	if summary.TotalCostUSD > 0 {
		out += fmt.Sprintf("\n(cost: $%.4f)", summary.TotalCostUSD)
	}
	return out, nil
}

func (a *Assistant) chatLock(chatID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		a.chatLocks[chatID] = lock
	}
	return lock
}

// ── chat commands ──

// handleCommand intercepts the !-prefixed control commands. These bypass the
// per-chat lock on purpose: kill and retry must work while an orchestration
// holds it.
func (a *Assistant) handleCommand(chatID, text string) (string, bool) {
	if !strings.HasPrefix(text, "!") {
		return "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "kill":
		return a.cmdKill(chatID, args), true
	case "retry":
		return a.cmdRetry(chatID, args), true
	case "agents":
		return a.cmdAgents(chatID), true
	case "remember":
		return a.cmdRemember(chatID, strings.TrimSpace(strings.TrimPrefix(text[1:], fields[0]))), true
	case "memories":
		return a.cmdMemories(chatID), true
	case "forget":
		return a.cmdForget(chatID, args), true
	case "reset":
		a.sessions.Clear(chatID)
		if err := a.sessions.Save(); err != nil {
			a.logger.Warn("failed to persist sessions", "error", err)
		}
		return "Conversation reset.", true
	case "usage":
		return a.cmdUsage(), true
	default:
		return "", false
	}
}

func (a *Assistant) cmdKill(chatID string, args []string) string {
	orch, ok := a.registry.ActiveOrchestrator(chatID)
	if !ok {
		return "Nothing is running."
	}
	if len(args) == 0 {
		if a.registry.Cancel(orch.ID) {
			return "Killed the running orchestration."
		}
		return "The orchestration is not cancellable right now."
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return "Usage: !kill [worker-number]"
	}
	worker, ok := a.registry.Worker(orch.ID, n)
	if !ok {
		return fmt.Sprintf("No worker #%d.", n)
	}
	if a.registry.Cancel(worker.ID) {
		return fmt.Sprintf("Killed worker #%d.", n)
	}
	return fmt.Sprintf("Worker #%d is not running.", n)
}

func (a *Assistant) cmdRetry(chatID string, args []string) string {
	if len(args) == 0 {
		return "Usage: !retry <worker-number>"
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return "Usage: !retry <worker-number>"
	}
	orch, ok := a.registry.ActiveOrchestrator(chatID)
	if !ok {
		return "Nothing is running."
	}
	ok, err = a.registry.Retry(orch.ID, n)
	if !ok {
		return "The orchestration does not accept retries right now."
	}
	if err != nil {
		return fmt.Sprintf("Retry failed: %v", err)
	}
	return fmt.Sprintf("Retrying worker #%d.", n)
}

func (a *Assistant) cmdAgents(chatID string) string {
	agents := a.registry.List()
	var b strings.Builder
	shown := 0
	for _, ag := range agents {
		if ag.ChatID != chatID || shown >= 15 {
			continue
		}
		shown++
		switch ag.Role {
		case registry.RoleOrchestrator:
			fmt.Fprintf(&b, "[%d] orchestrator %s — %s\n", ag.ID, ag.Phase, ag.Description)
		case registry.RoleWorker:
			fmt.Fprintf(&b, "[%d] worker #%d %s — %s\n", ag.ID, ag.WorkerNumber, ag.Phase, ag.Description)
		}
	}
	if shown == 0 {
		return "No agents yet."
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assistant) cmdRemember(chatID, text string) string {
	note, err := a.memory.Add(chatID, text, memory.SourceManual)
	if err != nil {
		return "Nothing to remember. Usage: !remember <fact>"
	}
	return fmt.Sprintf("Noted (%s).", note.ID)
}

func (a *Assistant) cmdMemories(chatID string) string {
	notes, err := a.memory.List(chatID)
	if err != nil {
		a.logger.Warn("failed to list notes", "error", err)
		return "Could not load memories."
	}
	if len(notes) == 0 {
		return "No memories for this chat."
	}
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "%s [%s]: %s\n", n.ID, n.Source, n.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assistant) cmdForget(chatID string, args []string) string {
	if len(args) == 0 {
		return "Usage: !forget <id>|all"
	}
	if args[0] == "all" {
		n, err := a.memory.Clear(chatID)
		if err != nil {
			return "Could not clear memories."
		}
		return fmt.Sprintf("Forgot %d memory note(s).", n)
	}
	ok, err := a.memory.Remove(args[0])
	if err != nil || !ok {
		return fmt.Sprintf("No memory note %q.", args[0])
	}
	return "Forgotten."
}

func (a *Assistant) cmdUsage() string {
	totals, err := a.usage.AllTime()
	if err != nil {
		return "Could not load usage."
	}
	out := fmt.Sprintf("All time: %d calls, $%.4f, %d turns, %d errors",
		totals.Calls, totals.CostUSD, totals.Turns, totals.Errors)
	if daily, err := a.usage.Daily(7); err == nil && len(daily) > 0 {
		var b strings.Builder
		b.WriteString(out + "\nLast days:")
		for _, d := range daily {
			fmt.Fprintf(&b, "\n  %s: %d calls, $%.4f", d.Day, d.Calls, d.CostUSD)
		}
		out = b.String()
	}
	return out
}
