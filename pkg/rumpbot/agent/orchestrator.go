package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/registry"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/usage"
)

// Summary is the final outcome of one orchestration run.
type Summary struct {
	// OverallSuccess is true iff at least one worker ran, every worker
	// result succeeded, and no worker was left unscheduled.
	OverallSuccess bool

	// Summary is the user-facing wrap-up text.
	Summary string

	// WorkerResults holds final results in completion order. Skipped
	// workers produce no entries.
	WorkerResults []WorkerResult

	// TotalCostUSD sums planning, every worker attempt, and summarization.
	TotalCostUSD float64

	// NeedsRestart signals the completed work asks for a service restart.
	NeedsRestart bool
}

// Orchestrator plans a work request into worker tasks, supervises their
// execution, and summarizes the outcome.
type Orchestrator struct {
	caller   assistantCaller
	registry *registry.Registry
	usage    *usage.Logger
	cfg      *Config
	logger   *slog.Logger
}

// NewOrchestrator wires the orchestration engine. usageLog may be nil in
// tests.
func NewOrchestrator(caller assistantCaller, reg *registry.Registry, usageLog *usage.Logger, cfg *Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		caller:   caller,
		registry: reg,
		usage:    usageLog,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Execute runs the full plan/execute/summarize cycle for one work request.
// It always returns a Summary: cancellation, timeouts, and plan failures are
// reported through it, never as a panic or a nil.
func (o *Orchestrator) Execute(ctx context.Context, chatID string, work *WorkRequest, status StatusFunc) *Summary {
	orchID := o.registry.Register(registry.Agent{
		Role:        registry.RoleOrchestrator,
		ChatID:      chatID,
		Description: truncate(work.Task, 120),
		Phase:       registry.PhasePlanning,
	})

	// The orchestration timeout bounds planning and execution. The summary
	// phase deliberately runs on the external context so a timed-out run
	// still gets summarized.
	runCtx, cancelRun := context.WithTimeout(ctx, o.cfg.Orchestrator.Timeout())
	defer cancelRun()
	o.registry.SetCancel(orchID, cancelRun)
	defer o.registry.RemoveCancel(orchID)

	run := &orchestration{
		o:      o,
		chatID: chatID,
		work:   work,
		status: status,
		orchID: orchID,
		exec:   &workerExecutor{caller: o.caller, cfg: o.cfg, usage: o.usage, logger: o.logger},
	}

	summary := run.execute(runCtx, ctx)
	o.registry.Complete(orchID, summary.OverallSuccess, summary.TotalCostUSD)
	return summary
}

// orchestration is the mutable state of one Execute call.
type orchestration struct {
	o      *Orchestrator
	chatID string
	work   *WorkRequest
	status StatusFunc
	orchID int64
	exec   *workerExecutor

	plan *Plan

	mu        sync.Mutex
	results   []WorkerResult
	totalCost float64
	notices   []string

	// incomplete is set when any planned worker never ran (fail-fast skip,
	// deadlock, or orchestration timeout).
	incomplete bool
}

func (run *orchestration) execute(runCtx, externalCtx context.Context) *Summary {
	plan, err := run.planning(runCtx)
	if err != nil {
		run.o.logger.Warn("planning failed", "chat_id", run.chatID, "error", err)
		return &Summary{
			OverallSuccess: false,
			Summary:        fmt.Sprintf("Planning failed: %v", err),
			TotalCostUSD:   run.cost(),
		}
	}
	run.plan = plan

	run.o.registry.SetPhase(run.orchID, registry.PhaseExecuting)
	run.o.registry.SetRetry(run.orchID, run.retryWorker(runCtx))

	if plan.Sequential {
		run.runSequential(runCtx)
	} else {
		run.runParallel(runCtx)
	}

	if runCtx.Err() != nil && externalCtx.Err() == nil {
		run.addNotice(fmt.Sprintf("The orchestration hit its %s time limit; remaining work was stopped.",
			run.o.cfg.Orchestrator.Timeout()))
	}

	run.o.registry.SetPhase(run.orchID, registry.PhaseSummarizing)
	return run.summarize(externalCtx)
}

// ── phase 1: planning ──

func (run *orchestration) planning(ctx context.Context) (*Plan, error) {
	run.status.emit(StatusUpdate{Type: StatusProgress, Message: "Planning the work..."})

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", run.work.Task)
	if run.work.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", run.work.Context)
	}
	fmt.Fprintf(&b, "Urgency: %s\n", run.work.Urgency)
	fmt.Fprintf(&b, "Working directory: %s\n", run.o.cfg.WorkDir)

	res, err := run.o.caller.Call(ctx, invoker.Request{
		Prompt:       b.String(),
		SystemPrompt: plannerSystemPrompt,
		Model:        run.o.cfg.Tiers.Orchestrator.Model,
		WorkDir:      run.o.cfg.WorkDir,
		MaxTurns:     run.o.cfg.Tiers.Orchestrator.MaxTurns,
		Timeout:      run.o.cfg.Tiers.Orchestrator.Timeout(),
		NoTools:      true,
	})
	run.recordOrchestratorUsage(res, err)
	if err != nil {
		return nil, err
	}
	run.addCost(res.CostUSD)
	if res.IsError {
		return nil, fmt.Errorf("planner error: %s", res.Text)
	}

	plan, err := parsePlan(res.Text, run.o.cfg.Orchestrator.MaxWorkers)
	if err != nil {
		return nil, err
	}

	mode := "parallel"
	if plan.Sequential {
		mode = "sequential"
	}
	run.status.emit(StatusUpdate{
		Type:      StatusPlanBreakdown,
		Important: true,
		Message: fmt.Sprintf("Plan: %s\nMode: %s, %d worker(s)\n%s",
			plan.Summary, mode, len(plan.Workers), plan.describe()),
	})
	return plan, nil
}

// ── phase 2: execution ──

func (run *orchestration) runSequential(ctx context.Context) {
	total := len(run.plan.Workers)
	for i, task := range run.plan.Workers {
		if ctx.Err() != nil {
			run.markSkipped(total - i)
			return
		}
		prompt := run.workerPrompt(i, run.resultsSnapshot())
		res := run.runWorkerWithRetry(ctx, task, i+1, prompt)
		run.appendResult(res)
		run.emitWorkerComplete(i+1, total, task, res)
		if !res.Success {
			if remaining := total - i - 1; remaining > 0 {
				run.markSkipped(remaining)
				notice := fmt.Sprintf("Worker %d (%s) failed; %d remaining worker(s) were skipped.",
					i+1, task.ID, remaining)
				run.addNotice(notice)
				run.status.emit(StatusUpdate{Type: StatusProgress, Important: true, Message: notice})
			}
			return
		}
	}
}

func (run *orchestration) runParallel(ctx context.Context) {
	total := len(run.plan.Workers)
	remaining := make(map[string]int, total) // task id → plan index
	for i, task := range run.plan.Workers {
		remaining[task.ID] = i
	}
	completed := make(map[string]WorkerResult)
	dead := make(map[string]bool) // failed or skipped ids

	for len(remaining) > 0 {
		if ctx.Err() != nil {
			run.markSkipped(len(remaining))
			return
		}

		// Fail-fast closure: drop every remaining task that transitively
		// depends on a failed or already-skipped one.
		if skipped := run.dropDependents(remaining, dead); skipped > 0 {
			notice := fmt.Sprintf("%d worker(s) that depend on failed work were skipped.", skipped)
			run.addNotice(notice)
			run.status.emit(StatusUpdate{Type: StatusProgress, Important: true, Message: notice})
			run.markSkipped(skipped)
			continue
		}

		ready := readyTasks(run.plan, remaining, completed)
		if len(ready) == 0 {
			ids := make([]string, 0, len(remaining))
			for id := range remaining {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			run.addNotice(fmt.Sprintf("Dependency deadlock: worker(s) %s could never be scheduled.",
				strings.Join(ids, ", ")))
			run.markSkipped(len(remaining))
			return
		}

		var wg sync.WaitGroup
		var roundMu sync.Mutex
		roundResults := make(map[string]WorkerResult, len(ready))
		for _, idx := range ready {
			task := run.plan.Workers[idx]
			delete(remaining, task.ID)
			wg.Add(1)
			go func(idx int, task Task) {
				defer wg.Done()
				prompt := run.workerPrompt(idx, run.depResults(task, completed))
				res := run.runWorkerWithRetry(ctx, task, idx+1, prompt)
				run.appendResult(res)
				run.emitWorkerComplete(idx+1, total, task, res)
				roundMu.Lock()
				roundResults[task.ID] = res
				roundMu.Unlock()
			}(idx, task)
		}
		wg.Wait()

		for id, res := range roundResults {
			completed[id] = res
			if !res.Success {
				dead[id] = true
			}
		}
	}
}

// readyTasks returns the plan indexes of remaining tasks whose dependencies
// have all completed successfully or not, in plan order.
func readyTasks(plan *Plan, remaining map[string]int, completed map[string]WorkerResult) []int {
	var ready []int
	for _, idx := range remaining {
		ok := true
		for _, dep := range plan.Workers[idx].DependsOn {
			if _, done := completed[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, idx)
		}
	}
	sort.Ints(ready)
	return ready
}

// dropDependents removes from remaining every task that transitively depends
// on an id in dead, adding the dropped ids to dead. Returns how many were
// dropped.
func (run *orchestration) dropDependents(remaining map[string]int, dead map[string]bool) int {
	if len(dead) == 0 {
		return 0
	}
	dropped := 0
	for changed := true; changed; {
		changed = false
		for id, idx := range remaining {
			for _, dep := range run.plan.Workers[idx].DependsOn {
				if dead[dep] {
					delete(remaining, id)
					dead[id] = true
					dropped++
					changed = true
					break
				}
			}
		}
	}
	return dropped
}

// runWorkerWithRetry executes a task and retries it exactly once, after a
// short backoff, when the failure text looks transient.
func (run *orchestration) runWorkerWithRetry(ctx context.Context, task Task, number int, prompt string) WorkerResult {
	res := run.runWorker(ctx, task, number, prompt)
	if res.Success || ctx.Err() != nil || !isTransientErrorText(res.Result) {
		return res
	}

	run.o.logger.Info("retrying worker after transient error",
		"task_id", task.ID, "result", truncate(res.Result, 200))
	run.status.emit(StatusUpdate{
		Type:    StatusProgress,
		Message: fmt.Sprintf("Worker %d hit a transient error, retrying...", number),
	})

	select {
	case <-ctx.Done():
		return res
	case <-time.After(run.o.cfg.Orchestrator.RetryBackoff()):
	}

	retryTask := task
	retryTask.ID = task.ID + "-retry"
	return run.runWorker(ctx, retryTask, number, prompt)
}

// runWorker executes one attempt under full supervision: registry entry,
// per-worker cancellation, heartbeat, and stall detection.
func (run *orchestration) runWorker(ctx context.Context, task Task, number int, prompt string) WorkerResult {
	workerCtx, cancelWorker := context.WithCancelCause(ctx)
	defer cancelWorker(nil)

	workerID := run.o.registry.Register(registry.Agent{
		Role:            registry.RoleWorker,
		ChatID:          run.chatID,
		Description:     task.Description,
		Phase:           registry.PhaseExecuting,
		ParentID:        run.orchID,
		WorkerNumber:    number,
		TaskPrompt:      task.Prompt,
		TaskDescription: task.Description,
	})
	run.o.registry.SetCancel(workerID, func() { cancelWorker(errKilledByUser) })
	defer run.o.registry.RemoveCancel(workerID)

	var lastOutput atomic.Int64
	lastOutput.Store(time.Now().UnixNano())

	stop := make(chan struct{})
	defer close(stop)
	go run.supervise(workerID, number, task, &lastOutput, cancelWorker, stop)

	onActivity := func() {
		lastOutput.Store(time.Now().UnixNano())
		run.o.registry.Touch(workerID)
	}
	onOutput := func(chunk string) {
		run.o.registry.AppendOutput(workerID, chunk)
	}

	res := run.exec.run(workerCtx, run.chatID, task, prompt, onActivity, onOutput)
	run.addCost(res.CostUSD)
	run.o.registry.Complete(workerID, res.Success, res.CostUSD)
	return res
}

// supervise runs the heartbeat and stall timers for one worker attempt.
func (run *orchestration) supervise(workerID int64, number int, task Task, lastOutput *atomic.Int64, cancelWorker context.CancelCauseFunc, stop <-chan struct{}) {
	cfg := run.o.cfg.Orchestrator
	started := time.Now()

	heartbeatEvery := cfg.Heartbeat()
	if heartbeatEvery <= 0 {
		heartbeatEvery = time.Minute
	}
	stallEvery := cfg.StallCheck()
	if stallEvery <= 0 {
		stallEvery = 30 * time.Second
	}
	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	stallCheck := time.NewTicker(stallEvery)
	defer stallCheck.Stop()

	warned := false
	for {
		select {
		case <-stop:
			return

		case <-heartbeat.C:
			run.o.registry.Touch(workerID)
			elapsed := time.Since(started).Round(time.Minute)
			run.status.emit(StatusUpdate{
				Type:     StatusProgress,
				Message:  fmt.Sprintf("Worker %d (%s) still running (%s elapsed)", number, task.ID, elapsed),
				Progress: fmt.Sprintf("%d/%d", number, len(run.plan.Workers)),
			})

		case <-stallCheck.C:
			silence := time.Since(time.Unix(0, lastOutput.Load()))
			switch {
			case silence >= cfg.StallKill():
				run.o.logger.Warn("killing stalled worker",
					"task_id", task.ID, "silence", silence.Round(time.Second))
				run.status.emit(StatusUpdate{
					Type:      StatusProgress,
					Important: true,
					Message: fmt.Sprintf("Worker %d (%s) produced no output for %s, killing it.",
						number, task.ID, silence.Round(time.Second)),
				})
				cancelWorker(errStallKilled)
				return
			case silence >= cfg.StallWarning():
				if !warned {
					warned = true
					run.status.emit(StatusUpdate{
						Type: StatusProgress,
						Message: fmt.Sprintf("Worker %d (%s) has been quiet for %s",
							number, task.ID, silence.Round(time.Second)),
					})
				}
			default:
				warned = false
			}
		}
	}
}

// retryWorker builds the external-control retry function exposed through the
// registry while the orchestration runs. The rerun happens asynchronously;
// its result replaces the worker's earlier entry.
func (run *orchestration) retryWorker(ctx context.Context) registry.RetryFunc {
	return func(number int) error {
		if run.plan == nil || number < 1 || number > len(run.plan.Workers) {
			return fmt.Errorf("no worker #%d in the current plan", number)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("orchestration is no longer running")
		}
		task := run.plan.Workers[number-1]
		go func() {
			prompt := run.workerPrompt(number-1, run.resultsSnapshot())
			res := run.runWorker(ctx, task, number, prompt)
			run.replaceResult(res)
			run.emitWorkerComplete(number, len(run.plan.Workers), task, res)
		}()
		return nil
	}
}

// ── phase 3: summary ──

func (run *orchestration) summarize(externalCtx context.Context) *Summary {
	results := run.resultsSnapshot()
	notices := run.noticesSnapshot()

	out := &Summary{
		WorkerResults:  results,
		OverallSuccess: run.overallSuccess(results),
	}

	ctx, cancel := context.WithTimeout(externalCtx, run.o.cfg.Orchestrator.SummaryTimeout())
	defer cancel()

	res, err := run.o.caller.Call(ctx, invoker.Request{
		Prompt:       run.summaryPrompt(results, notices),
		SystemPrompt: summarySystemPrompt,
		Model:        run.o.cfg.Tiers.Orchestrator.Model,
		WorkDir:      run.o.cfg.WorkDir,
		MaxTurns:     1,
		Timeout:      run.o.cfg.Orchestrator.SummaryTimeout(),
		NoTools:      true,
	})
	run.recordOrchestratorUsage(res, err)

	switch {
	case err != nil:
		run.o.logger.Warn("summary call failed, using fallback", "error", err)
		out.Summary = run.fallbackSummary(results, notices)
	case res.IsError:
		run.o.logger.Warn("summary call errored, using fallback", "result", truncate(res.Text, 200))
		run.addCost(res.CostUSD)
		out.Summary = run.fallbackSummary(results, notices)
	default:
		run.addCost(res.CostUSD)
		out.Summary = strings.TrimSpace(res.Text)
		if out.Summary == "" {
			out.Summary = run.fallbackSummary(results, notices)
		}
	}

	out.TotalCostUSD = run.cost()
	out.NeedsRestart = run.needsRestart(res, results)
	return out
}

func (run *orchestration) summaryPrompt(results []WorkerResult, notices []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original task: %s\n", run.work.Task)
	if run.plan != nil {
		fmt.Fprintf(&b, "Plan: %s\n", run.plan.Summary)
	}
	fmt.Fprintf(&b, "\nWorker results (%d):\n", len(results))
	for _, res := range results {
		label := "FAILED"
		if res.Success {
			label = "SUCCESS"
		}
		fmt.Fprintf(&b, "\n[%s] %s:\n%s\n", label, res.TaskID,
			truncate(res.Result, run.o.cfg.Orchestrator.MaxResultChars))
	}
	for _, n := range notices {
		fmt.Fprintf(&b, "\nNotice: %s\n", n)
	}
	fmt.Fprintf(&b, "\nTotal cost so far: $%.4f\n", run.cost())
	return b.String()
}

// fallbackSummary is the deterministic wrap-up used when the summary call
// itself fails.
func (run *orchestration) fallbackSummary(results []WorkerResult, notices []string) string {
	succeeded := 0
	var failed []string
	for _, res := range results {
		if res.Success {
			succeeded++
		} else {
			failed = append(failed, res.TaskID)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Finished %d of %d planned worker(s): %d succeeded, %d failed.",
		len(results), run.plannedWorkers(), succeeded, len(failed))
	if len(failed) > 0 {
		fmt.Fprintf(&b, " Failed: %s.", strings.Join(failed, ", "))
	}
	for _, n := range notices {
		b.WriteString(" ")
		b.WriteString(n)
	}
	return b.String()
}

func (run *orchestration) plannedWorkers() int {
	if run.plan == nil {
		return 0
	}
	return len(run.plan.Workers)
}

func (run *orchestration) overallSuccess(results []WorkerResult) bool {
	run.mu.Lock()
	incomplete := run.incomplete
	run.mu.Unlock()
	if incomplete || len(results) == 0 {
		return false
	}
	for _, res := range results {
		if !res.Success {
			return false
		}
	}
	return true
}

// needsRestart is true when the summary payload carries an explicit flag, or
// when the combined task, plan, and results mention restarting one of the
// configured services.
func (run *orchestration) needsRestart(summaryRes *invoker.Result, results []WorkerResult) bool {
	if summaryRes != nil && summaryRes.Raw != nil {
		for _, key := range []string{"needs_restart", "needsrestart", "needsRestart"} {
			if v, ok := summaryRes.Raw[key].(bool); ok && v {
				return true
			}
		}
	}

	var b strings.Builder
	b.WriteString(run.work.Task)
	if run.plan != nil {
		b.WriteString(" " + run.plan.Summary)
	}
	for _, res := range results {
		b.WriteString(" " + res.Result)
	}
	text := strings.ToLower(b.String())
	if !strings.Contains(text, "restart") {
		return false
	}
	for _, svc := range run.o.cfg.RestartServices {
		if svc != "" && strings.Contains(text, strings.ToLower(svc)) {
			return true
		}
	}
	return false
}

// ── prompt assembly ──

// workerPrompt builds the full prompt for the worker at plan index idx:
// plan context, position, prior results, then the task itself.
func (run *orchestration) workerPrompt(idx int, prior []WorkerResult) string {
	plan := run.plan
	task := plan.Workers[idx]
	mode := "parallel"
	if plan.Sequential {
		mode = "sequential"
	}

	var b strings.Builder
	b.WriteString("[PLAN CONTEXT]\n")
	fmt.Fprintf(&b, "Goal: %s\n", run.work.Task)
	if plan.Summary != "" {
		fmt.Fprintf(&b, "Plan: %s\n", plan.Summary)
	}
	fmt.Fprintf(&b, "Mode: %s, %d worker(s) total\n", mode, len(plan.Workers))
	b.WriteString(plan.describe())
	b.WriteByte('\n')
	fmt.Fprintf(&b, "\nYou are worker #%d of %d.\n", idx+1, len(plan.Workers))

	if len(prior) > 0 {
		b.WriteString("\n[PRIOR RESULTS]\n")
		for _, res := range prior {
			label := "FAILED"
			if res.Success {
				label = "SUCCESS"
			}
			fmt.Fprintf(&b, "%s %s:\n%s\n", label, res.TaskID,
				truncate(res.Result, run.o.cfg.Orchestrator.MaxResultChars))
		}
	}

	b.WriteString("\nYour task:\n")
	b.WriteString(task.Prompt)
	return b.String()
}

// depResults selects the completed results of exactly the task's declared
// dependencies, in declaration order.
func (run *orchestration) depResults(task Task, completed map[string]WorkerResult) []WorkerResult {
	var deps []WorkerResult
	for _, id := range task.DependsOn {
		if res, ok := completed[id]; ok {
			deps = append(deps, res)
		}
	}
	return deps
}

// ── shared state helpers ──

func (run *orchestration) appendResult(res WorkerResult) {
	run.mu.Lock()
	run.results = append(run.results, res)
	run.mu.Unlock()
}

// replaceResult swaps the entry for the same base task id, or appends when
// none exists yet. Used by external retries.
func (run *orchestration) replaceResult(res WorkerResult) {
	base := strings.TrimSuffix(res.TaskID, "-retry")
	run.mu.Lock()
	defer run.mu.Unlock()
	for i, prev := range run.results {
		if strings.TrimSuffix(prev.TaskID, "-retry") == base {
			run.results[i] = res
			return
		}
	}
	run.results = append(run.results, res)
}

func (run *orchestration) resultsSnapshot() []WorkerResult {
	run.mu.Lock()
	defer run.mu.Unlock()
	out := make([]WorkerResult, len(run.results))
	copy(out, run.results)
	return out
}

func (run *orchestration) addCost(c float64) {
	if c <= 0 {
		return
	}
	run.mu.Lock()
	run.totalCost += c
	run.mu.Unlock()
}

func (run *orchestration) cost() float64 {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.totalCost
}

func (run *orchestration) addNotice(n string) {
	run.mu.Lock()
	run.notices = append(run.notices, n)
	run.mu.Unlock()
}

func (run *orchestration) noticesSnapshot() []string {
	run.mu.Lock()
	defer run.mu.Unlock()
	out := make([]string, len(run.notices))
	copy(out, run.notices)
	return out
}

func (run *orchestration) markSkipped(n int) {
	if n <= 0 {
		return
	}
	run.mu.Lock()
	run.incomplete = true
	run.mu.Unlock()
}

func (run *orchestration) emitWorkerComplete(number, total int, task Task, res WorkerResult) {
	verdict := "failed"
	if res.Success {
		verdict = "done"
	}
	label := task.Description
	if label == "" {
		label = task.ID
	}
	run.status.emit(StatusUpdate{
		Type:      StatusWorkerComplete,
		Important: !res.Success,
		Message:   fmt.Sprintf("Worker %d/%d (%s): %s", number, total, label, verdict),
		Progress:  fmt.Sprintf("%d/%d", number, total),
	})
}

func (run *orchestration) recordOrchestratorUsage(res *invoker.Result, callErr error) {
	if run.o.usage == nil {
		return
	}
	rec := usage.Record{
		ChatID:  run.chatID,
		Tier:    invoker.TierOrchestrator,
		IsError: callErr != nil,
	}
	if res != nil {
		rec.DurationMS = res.DurationMS
		rec.DurationAPIMS = res.DurationAPIMS
		rec.CostUSD = res.CostUSD
		rec.NumTurns = res.NumTurns
		rec.StopReason = res.StopReason
		rec.IsError = res.IsError
		rec.ModelUsage = res.ModelUsage
	}
	if err := run.o.usage.Record(rec); err != nil {
		run.o.logger.Warn("failed to record invocation", "error", err)
	}
}
