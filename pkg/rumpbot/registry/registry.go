// Package registry is the in-memory directory of running agents. It is what
// out-of-band control is built on: the message handler can kill a single
// worker, retry one by number, or list everything in flight, without holding
// a reference to the orchestration that spawned them.
//
// One shared instance is constructed by the composition root and passed by
// reference; every operation is safe for concurrent use.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Role identifies what kind of agent an entry tracks.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleWorker       Role = "worker"
)

// Phase is the lifecycle phase of an agent.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseExecuting   Phase = "executing"
	PhaseSummarizing Phase = "summarizing"
	PhaseComplete    Phase = "complete"
)

// OutputRingSize bounds the per-worker output tail kept in memory.
const OutputRingSize = 64 * 1024

// Agent is a registry entry. Fields are snapshots; mutate through the
// Registry so updates stay atomic.
type Agent struct {
	ID              int64
	Role            Role
	ChatID          string
	Description     string
	Phase           Phase
	Progress        string
	ParentID        int64
	WorkerNumber    int // 1-based position within the parent plan
	TaskPrompt      string
	TaskDescription string
	StartedAt       time.Time
	LastActivityAt  time.Time
	FinishedAt      time.Time
	Success         bool
	CostUSD         float64
}

// RetryFunc re-runs one worker of a live orchestration by its 1-based number.
type RetryFunc func(workerNumber int) error

type entry struct {
	agent  Agent
	cancel context.CancelFunc
	output *outputRing
	retry  RetryFunc
}

// Registry tracks all agents across all orchestrations in the process.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	agents map[int64]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{agents: make(map[int64]*entry)}
}

// Register adds an agent and returns its monotonic id. StartedAt and
// LastActivityAt are stamped here.
func (r *Registry) Register(a Agent) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	a.ID = r.nextID
	now := time.Now()
	a.StartedAt = now
	a.LastActivityAt = now
	e := &entry{agent: a}
	if a.Role == RoleWorker {
		e.output = newOutputRing(OutputRingSize)
	}
	r.agents[a.ID] = e
	return a.ID
}

// Get returns a snapshot of one agent.
func (r *Registry) Get(id int64) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return e.agent, true
}

// SetPhase moves an agent to a new phase.
func (r *Registry) SetPhase(id int64, phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		e.agent.Phase = phase
		e.agent.LastActivityAt = time.Now()
	}
}

// SetProgress updates the human-readable progress line.
func (r *Registry) SetProgress(id int64, progress string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		e.agent.Progress = progress
		e.agent.LastActivityAt = time.Now()
	}
}

// SetDescription updates the description.
func (r *Registry) SetDescription(id int64, desc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		e.agent.Description = desc
	}
}

// Touch refreshes LastActivityAt.
func (r *Registry) Touch(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		e.agent.LastActivityAt = time.Now()
	}
}

// LastActivity returns the agent's last activity timestamp.
func (r *Registry) LastActivity(id int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		return e.agent.LastActivityAt, true
	}
	return time.Time{}, false
}

// Complete marks an agent finished and drops its cancel handle and retry
// function.
func (r *Registry) Complete(id int64, success bool, costUSD float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return
	}
	e.agent.Phase = PhaseComplete
	e.agent.Success = success
	e.agent.CostUSD = costUSD
	e.agent.FinishedAt = time.Now()
	e.cancel = nil
	e.retry = nil
}

// ActiveOrchestrator returns the one orchestrator for chatID that has not
// completed, if any. The per-chat lock at the message handler keeps this to
// at most one.
func (r *Registry) ActiveOrchestrator(chatID string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.agents {
		a := e.agent
		if a.Role == RoleOrchestrator && a.ChatID == chatID && a.Phase != PhaseComplete {
			return a, true
		}
	}
	return Agent{}, false
}

// Worker returns the worker entry for (parentID, workerNumber). Retries
// register a fresh entry under the same number, so a live entry wins over a
// completed one, and among completed ones the newest wins.
func (r *Registry) Worker(parentID int64, workerNumber int) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best Agent
	var found bool
	for _, e := range r.agents {
		a := e.agent
		if a.Role != RoleWorker || a.ParentID != parentID || a.WorkerNumber != workerNumber {
			continue
		}
		if !found || betterWorkerMatch(a, best) {
			best = a
			found = true
		}
	}
	return best, found
}

func betterWorkerMatch(a, b Agent) bool {
	if (a.Phase != PhaseComplete) != (b.Phase != PhaseComplete) {
		return a.Phase != PhaseComplete
	}
	return a.ID > b.ID
}

// WorkersFor returns all workers spawned by an orchestrator, ordered by
// worker number.
func (r *Registry) WorkersFor(parentID int64) []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var workers []Agent
	for _, e := range r.agents {
		if e.agent.Role == RoleWorker && e.agent.ParentID == parentID {
			workers = append(workers, e.agent)
		}
	}
	sortAgentsByWorkerNumber(workers)
	return workers
}

// List returns a snapshot of every agent, newest first.
func (r *Registry) List() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	agents := make([]Agent, 0, len(r.agents))
	for _, e := range r.agents {
		agents = append(agents, e.agent)
	}
	sortAgentsByIDDesc(agents)
	return agents
}

// SetCancel installs the cancellation handle for an agent.
func (r *Registry) SetCancel(id int64, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		e.cancel = cancel
	}
}

// RemoveCancel drops the cancellation handle without firing it.
func (r *Registry) RemoveCancel(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		e.cancel = nil
	}
}

// Cancel fires an agent's cancellation handle. Returns false when the agent
// is unknown or has no live handle.
func (r *Registry) Cancel(id int64) bool {
	r.mu.Lock()
	e, ok := r.agents[id]
	var cancel context.CancelFunc
	if ok && e.cancel != nil {
		cancel = e.cancel
		e.cancel = nil
	}
	r.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// SetRetry installs the live-orchestration retry function.
func (r *Registry) SetRetry(orchestratorID int64, fn RetryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[orchestratorID]; ok {
		e.retry = fn
	}
}

// Retry re-runs worker workerNumber of the given orchestrator, if it is
// still running and exposes a retry function.
func (r *Registry) Retry(orchestratorID int64, workerNumber int) (bool, error) {
	r.mu.Lock()
	e, ok := r.agents[orchestratorID]
	var fn RetryFunc
	if ok {
		fn = e.retry
	}
	r.mu.Unlock()

	if fn == nil {
		return false, nil
	}
	return true, fn(workerNumber)
}

// AppendOutput adds a chunk to a worker's bounded output tail.
func (r *Registry) AppendOutput(id int64, chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok && e.output != nil {
		e.output.Write([]byte(chunk))
	}
}

// Output returns the retained tail of a worker's output.
func (r *Registry) Output(id int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok && e.output != nil {
		return e.output.String()
	}
	return ""
}

func sortAgentsByWorkerNumber(agents []Agent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].WorkerNumber < agents[j].WorkerNumber })
}

func sortAgentsByIDDesc(agents []Agent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID > agents[j].ID })
}
