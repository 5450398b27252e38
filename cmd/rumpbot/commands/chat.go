package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/agent"
	"github.com/spf13/cobra"
)

// newChatCmd creates the `rumpbot chat` command for one-shot terminal use.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message from the terminal",
		Long: `Send a single message through the full pipeline: classification,
planning, workers, and summary. Status updates print to stderr as the run
progresses.

Examples:
  rumpbot chat "what's in the current directory?"
  rumpbot chat "fix the failing tests and push"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runChat,
	}
	cmd.Flags().String("chat-id", "cli", "chat identifier used for sessions and memory")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	assistant, _, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer assistant.Close()

	chatID, _ := cmd.Flags().GetString("chat-id")
	message := strings.Join(args, " ")

	// Ctrl+C cancels the run but still lets the summary phase finish.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	status := func(u agent.StatusUpdate) {
		prefix := "·"
		if u.Important {
			prefix = "!"
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", prefix, u.Message)
	}

	reply, err := assistant.HandleMessage(ctx, chatID, message, status)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}
