// Package agent implements the three-tier orchestration engine: the Chat
// Agent that classifies incoming messages, the Orchestrator that plans and
// supervises work, and the Worker executor that runs individual tasks
// against the assistant CLI. The Assistant type at the top ties the tiers
// together behind the message-handler boundary.
package agent

import (
	"context"
	"strings"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
)

// assistantCaller is the slice of the invoker the tiers depend on. Tests
// substitute a scripted assistant.
type assistantCaller interface {
	Call(ctx context.Context, req invoker.Request) (*invoker.Result, error)
}

// truncationMarker is appended to results cut at the result-size cap.
const truncationMarker = "\n... [truncated]"

// truncate cuts s to at most max characters, appending the truncation
// marker when anything was removed. max <= 0 disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + truncationMarker
}

// transientPatterns identify retryable failures by result text. Substring
// matching is all the CLI gives us here.
var transientPatterns = []string{
	"rate limit",
	"429",
	"timed out",
	"timeout",
	"econnreset",
	"econnrefused",
	"socket hang up",
	"network error",
	"overloaded",
	"503",
	"502",
}

// isTransientErrorText reports whether a failure text looks retryable.
func isTransientErrorText(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
