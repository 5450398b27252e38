// Package invoker shells out to the external assistant CLI and turns its
// output into a normalized Result. It owns the process lifecycle (spawn,
// stream, kill on timeout/cancel), the JSON extraction fallbacks, and the
// one-shot retry when a stale session handle is rejected by the CLI.
package invoker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Tier classifies an assistant call by the role that issued it.
type Tier string

const (
	TierChat         Tier = "chat"
	TierOrchestrator Tier = "orchestrator"
	TierWorker       Tier = "worker"
)

// DefaultBinary is the assistant CLI executable resolved from PATH.
const DefaultBinary = "claude"

// Request describes a single assistant CLI call.
type Request struct {
	// Prompt is the user-level instruction passed via -p.
	Prompt string

	// SystemPrompt is passed via --system-prompt when non-empty.
	SystemPrompt string

	// Model is passed via --model when non-empty.
	Model string

	// SessionID resumes a prior CLI session via --resume when non-empty.
	SessionID string

	// WorkDir is the working directory for the child process.
	WorkDir string

	// MaxTurns caps the assistant's tool-use round-trips.
	MaxTurns int

	// Timeout bounds the call. 0 means unlimited.
	Timeout time.Duration

	// AllowedTools is a CSV list passed via --tools when non-empty.
	AllowedTools string

	// NoTools passes --tools "" which disables all tools. Takes effect only
	// when AllowedTools is empty.
	NoTools bool

	// OnActivity fires on every stdout/stderr chunk. Must not block.
	OnActivity func()

	// OnOutput receives every stdout/stderr chunk. Must not block.
	OnOutput func(chunk string)
}

// Invoker spawns the assistant CLI as a supervised child process.
type Invoker struct {
	binary string
	logger *slog.Logger
}

// New creates an Invoker for the given CLI binary. An empty binary falls
// back to DefaultBinary.
func New(binary string, logger *slog.Logger) *Invoker {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{binary: binary, logger: logger.With("component", "invoker")}
}

// staleSessionMarkers are substrings of CLI errors that indicate the --resume
// handle is no longer valid. Matching is the only option: the CLI reports
// session problems as free text, not as a structured code.
var staleSessionMarkers = []string{"session", "resume", "not found", "invalid"}

func isStaleSessionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range staleSessionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Call runs the assistant CLI once. If the call carried a session handle and
// failed with a stale-session error, it is retried exactly once without the
// handle. Cancellation and timeout surface as *CallError values.
func (inv *Invoker) Call(ctx context.Context, req Request) (*Result, error) {
	res, err := inv.callOnce(ctx, req)
	if err != nil && req.SessionID != "" && !IsCancelled(err) && !IsTimeout(err) && isStaleSessionError(err) {
		inv.logger.Warn("session resume failed, retrying without session",
			"session_id", req.SessionID, "error", err)
		retry := req
		retry.SessionID = ""
		return inv.callOnce(ctx, retry)
	}
	return res, err
}

// buildArgs assembles the CLI argument list. The order is part of the CLI
// contract: fixed flags first, then the conditional ones.
func buildArgs(req Request) []string {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "json",
		"--max-turns", strconv.Itoa(req.MaxTurns),
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.AllowedTools != "" {
		args = append(args, "--tools", req.AllowedTools)
	} else if req.NoTools {
		args = append(args, "--tools", "")
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	return args
}

func (inv *Invoker) callOnce(ctx context.Context, req Request) (*Result, error) {
	cmd := exec.Command(inv.binary, buildArgs(req)...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &CallError{Kind: ErrSpawn, Message: fmt.Sprintf("stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &CallError{Kind: ErrSpawn, Message: fmt.Sprintf("stderr pipe: %v", err)}
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &CallError{Kind: ErrSpawn, Message: fmt.Sprintf("spawn %s: %v", inv.binary, err)}
	}

	var outBuf, errBuf strings.Builder
	var bufMu sync.Mutex
	var readers sync.WaitGroup
	readers.Add(2)
	go inv.drain(stdout, &outBuf, &bufMu, &readers, req)
	go inv.drain(stderr, &errBuf, &bufMu, &readers, req)

	done := make(chan error, 1)
	go func() {
		readers.Wait()
		done <- cmd.Wait()
	}()

	var timeoutCh <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, &CallError{Kind: ErrCancelled, Message: "cancelled"}
	case <-timeoutCh:
		_ = cmd.Process.Kill()
		<-done
		return nil, &CallError{Kind: ErrTimeout,
			Message: fmt.Sprintf("timed out after %s", req.Timeout)}
	}

	bufMu.Lock()
	stdoutText := outBuf.String()
	stderrText := errBuf.String()
	bufMu.Unlock()

	elapsed := time.Since(started)
	inv.logger.Debug("assistant call finished",
		"elapsed_ms", elapsed.Milliseconds(),
		"stdout_bytes", len(stdoutText),
		"exit_error", waitErr != nil)

	if payload, ok := ExtractJSON(stdoutText); ok {
		res := resultFromPayload(payload)
		if res.DurationMS == 0 {
			res.DurationMS = elapsed.Milliseconds()
		}
		return res, nil
	}

	// No parseable JSON. Non-empty stdout is still a usable answer.
	if trimmed := strings.TrimSpace(stdoutText); trimmed != "" {
		return &Result{Text: trimmed, DurationMS: elapsed.Milliseconds()}, nil
	}

	if waitErr != nil {
		msg := strings.TrimSpace(stderrText)
		if msg == "" {
			msg = waitErr.Error()
		}
		kind := ErrCLI
		if isRateLimitText(msg) {
			kind = ErrRateLimit
		}
		return nil, &CallError{Kind: kind, Message: msg}
	}

	return nil, &CallError{Kind: ErrCLI, Message: "assistant produced no output"}
}

// drain copies a process stream chunk-wise into buf, firing the activity and
// output callbacks for every chunk.
func (inv *Invoker) drain(r io.Reader, buf *strings.Builder, mu *sync.Mutex, wg *sync.WaitGroup, req Request) {
	defer wg.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			text := string(chunk[:n])
			mu.Lock()
			buf.WriteString(text)
			mu.Unlock()
			if req.OnActivity != nil {
				req.OnActivity()
			}
			if req.OnOutput != nil {
				req.OnOutput(text)
			}
		}
		if err != nil {
			return
		}
	}
}

func isRateLimitText(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "429")
}
