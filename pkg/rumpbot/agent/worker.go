package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/usage"
)

// Cancellation causes distinguish who pulled the plug on a worker. The
// default cause (plain cancel, registry kill command) reads as killed by
// user per the result-text contract.
var (
	errKilledByUser = errors.New("killed by user")
	errStallKilled  = errors.New("killed: no output from worker")
)

// WorkerResult is the outcome of one worker execution attempt.
type WorkerResult struct {
	TaskID     string
	Success    bool
	Result     string
	CostUSD    float64
	DurationMS int64
}

// workerExecutor runs a single task through the invoker with the worker-tier
// parameters and normalizes every outcome into a WorkerResult.
type workerExecutor struct {
	caller assistantCaller
	cfg    *Config
	usage  *usage.Logger
	logger *slog.Logger
}

// run executes one attempt. ctx carries the per-worker cancellation; the
// worker-tier timeout is enforced by the invoker via Request.Timeout.
func (w *workerExecutor) run(ctx context.Context, chatID string, task Task, prompt string, onActivity func(), onOutput func(string)) WorkerResult {
	started := time.Now()

	req := invoker.Request{
		Prompt:     prompt,
		Model:      w.cfg.Tiers.Worker.Model,
		WorkDir:    w.cfg.WorkDir,
		MaxTurns:   w.cfg.Tiers.Worker.MaxTurns,
		Timeout:    w.cfg.Orchestrator.WorkerTimeout(),
		OnActivity: onActivity,
		OnOutput:   onOutput,
	}

	res, err := w.caller.Call(ctx, req)
	w.recordUsage(chatID, res, err, time.Since(started))

	out := WorkerResult{TaskID: task.ID, DurationMS: time.Since(started).Milliseconds()}
	if res != nil {
		out.CostUSD = res.CostUSD
		if res.DurationMS > 0 {
			out.DurationMS = res.DurationMS
		}
	}

	switch {
	case err == nil:
		out.Success = !res.IsError
		out.Result = res.Text
	case invoker.IsTimeout(err):
		out.Result = fmt.Sprintf("timed out after %s", w.cfg.Orchestrator.WorkerTimeout())
	case invoker.IsCancelled(err):
		switch cause := context.Cause(ctx); {
		case errors.Is(cause, errStallKilled):
			out.Result = fmt.Sprintf("timed out: no output for %s", w.cfg.Orchestrator.StallKill())
		default:
			out.Result = "killed by user"
		}
	default:
		out.Result = fmt.Sprintf("worker error: %v", err)
	}

	if !out.Success {
		w.logger.Warn("worker attempt failed",
			"task_id", task.ID, "result", truncate(out.Result, 200))
	}
	return out
}

// recordUsage appends the invocation record for one attempt. Failed spawns
// still get a record so the cost ledger shows every attempt.
func (w *workerExecutor) recordUsage(chatID string, res *invoker.Result, callErr error, elapsed time.Duration) {
	if w.usage == nil {
		return
	}
	rec := usage.Record{
		ChatID:     chatID,
		Tier:       invoker.TierWorker,
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
	if err := w.usage.Record(rec); err != nil {
		w.logger.Warn("failed to record worker invocation", "error", err)
	}
}
