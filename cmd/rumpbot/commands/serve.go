package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/agent"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/channels"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/channels/discord"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `rumpbot serve` command that runs the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon connected to the chat channel",
		Long: `Run rumpbot as a daemon: connect to Discord, handle incoming
messages, and stream orchestration status back to the chat.

Examples:
  rumpbot serve
  rumpbot serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	assistant, cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer assistant.Close()

	if cfg.Channels.Discord.Token == "" {
		return fmt.Errorf("no Discord token configured; set channels.discord.token")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	dc := discord.New(cfg.Channels.Discord, logger)
	if err := dc.Connect(ctx); err != nil {
		return err
	}
	defer dc.Disconnect()

	go dispatch(ctx, assistant, dc, logger)

	logger.Info("rumpbot running, press Ctrl+C to stop", "name", cfg.Name, "channel", dc.Name())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping")
	cancel()
	time.Sleep(500 * time.Millisecond)
	return nil
}

// dispatch pumps incoming messages into the assistant, one goroutine per
// message. The assistant's per-chat lock serializes work within a chat.
func dispatch(ctx context.Context, assistant *agent.Assistant, dc *discord.Discord, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-dc.Receive():
			if !ok {
				return
			}
			go handleIncoming(ctx, assistant, dc, msg, logger)
		}
	}
}

func handleIncoming(ctx context.Context, assistant *agent.Assistant, dc *discord.Discord, msg *channels.IncomingMessage, logger *slog.Logger) {
	dc.Typing(msg.ChatID)

	relay := channels.NewStatusRelay(dc, msg.ChatID, channels.DefaultEditInterval, logger)
	status := func(u agent.StatusUpdate) {
		relay.Post(u.Message, u.Important)
	}

	reply, err := assistant.HandleMessage(ctx, msg.ChatID, msg.Content, status)
	relay.Reset()
	if err != nil {
		logger.Error("message handling failed", "chat_id", msg.ChatID, "error", err)
		reply = "Something went wrong handling that message."
	}
	if reply == "" {
		return
	}

	if _, err := dc.Send(ctx, msg.ChatID, &channels.OutgoingMessage{
		Content: reply,
		ReplyTo: msg.ID,
	}); err != nil {
		logger.Error("failed to send reply", "chat_id", msg.ChatID, "error", err)
	}
}
