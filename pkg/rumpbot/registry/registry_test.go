package registry

import (
	"context"
	"strings"
	"testing"
)

func TestRegisterAssignsMonotonicIDs(t *testing.T) {
	r := New()
	first := r.Register(Agent{Role: RoleOrchestrator, ChatID: "c1", Phase: PhasePlanning})
	second := r.Register(Agent{Role: RoleWorker, ChatID: "c1", ParentID: first, WorkerNumber: 1})
	if second <= first {
		t.Errorf("ids not monotonic: %d then %d", first, second)
	}

	a, ok := r.Get(first)
	if !ok || a.Role != RoleOrchestrator || a.StartedAt.IsZero() {
		t.Errorf("Get(first) = %+v, ok=%v", a, ok)
	}
}

func TestActiveOrchestrator(t *testing.T) {
	r := New()
	if _, ok := r.ActiveOrchestrator("c1"); ok {
		t.Error("empty registry reported an active orchestrator")
	}

	id := r.Register(Agent{Role: RoleOrchestrator, ChatID: "c1", Phase: PhasePlanning})
	a, ok := r.ActiveOrchestrator("c1")
	if !ok || a.ID != id {
		t.Fatalf("ActiveOrchestrator = %+v, ok=%v", a, ok)
	}
	if _, ok := r.ActiveOrchestrator("c2"); ok {
		t.Error("found orchestrator for wrong chat")
	}

	r.Complete(id, true, 0.1)
	if _, ok := r.ActiveOrchestrator("c1"); ok {
		t.Error("completed orchestrator still reported active")
	}
}

func TestWorkerLookupAndOrdering(t *testing.T) {
	r := New()
	orch := r.Register(Agent{Role: RoleOrchestrator, ChatID: "c1", Phase: PhaseExecuting})
	r.Register(Agent{Role: RoleWorker, ChatID: "c1", ParentID: orch, WorkerNumber: 2})
	r.Register(Agent{Role: RoleWorker, ChatID: "c1", ParentID: orch, WorkerNumber: 1})

	w, ok := r.Worker(orch, 2)
	if !ok || w.WorkerNumber != 2 {
		t.Errorf("Worker(orch, 2) = %+v, ok=%v", w, ok)
	}

	workers := r.WorkersFor(orch)
	if len(workers) != 2 || workers[0].WorkerNumber != 1 || workers[1].WorkerNumber != 2 {
		t.Errorf("WorkersFor order wrong: %+v", workers)
	}
}

func TestCancelHandle(t *testing.T) {
	r := New()
	id := r.Register(Agent{Role: RoleWorker, ChatID: "c1", WorkerNumber: 1})

	if r.Cancel(id) {
		t.Error("Cancel with no handle should return false")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.SetCancel(id, cancel)
	if !r.Cancel(id) {
		t.Fatal("Cancel should fire the installed handle")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("context not cancelled")
	}
	if r.Cancel(id) {
		t.Error("second Cancel should report no handle")
	}
}

func TestRetryFunc(t *testing.T) {
	r := New()
	orch := r.Register(Agent{Role: RoleOrchestrator, ChatID: "c1", Phase: PhaseExecuting})

	if ok, _ := r.Retry(orch, 1); ok {
		t.Error("Retry without a function should report false")
	}

	var retried int
	r.SetRetry(orch, func(n int) error {
		retried = n
		return nil
	})
	ok, err := r.Retry(orch, 3)
	if !ok || err != nil || retried != 3 {
		t.Errorf("Retry = (%v, %v), retried=%d", ok, err, retried)
	}

	r.Complete(orch, true, 0)
	if ok, _ := r.Retry(orch, 1); ok {
		t.Error("Retry after completion should report false")
	}
}

func TestOutputRingBounded(t *testing.T) {
	r := New()
	id := r.Register(Agent{Role: RoleWorker, ChatID: "c1", WorkerNumber: 1})

	r.AppendOutput(id, "hello ")
	r.AppendOutput(id, "world")
	if got := r.Output(id); got != "hello world" {
		t.Errorf("Output = %q", got)
	}

	// Overflow: only the newest OutputRingSize bytes survive.
	big := strings.Repeat("x", OutputRingSize)
	r.AppendOutput(id, big)
	r.AppendOutput(id, "tail")
	got := r.Output(id)
	if len(got) != OutputRingSize {
		t.Errorf("len(Output) = %d, want %d", len(got), OutputRingSize)
	}
	if !strings.HasSuffix(got, "tail") {
		t.Error("newest bytes missing from ring")
	}
}

func TestOutputOnNonWorker(t *testing.T) {
	r := New()
	id := r.Register(Agent{Role: RoleOrchestrator, ChatID: "c1"})
	r.AppendOutput(id, "ignored")
	if got := r.Output(id); got != "" {
		t.Errorf("orchestrators keep no output ring, got %q", got)
	}
}

func TestCompleteRecordsOutcome(t *testing.T) {
	r := New()
	id := r.Register(Agent{Role: RoleWorker, ChatID: "c1", WorkerNumber: 1, Phase: PhaseExecuting})
	r.Complete(id, false, 0.42)

	a, _ := r.Get(id)
	if a.Phase != PhaseComplete || a.Success || a.CostUSD != 0.42 || a.FinishedAt.IsZero() {
		t.Errorf("completed agent = %+v", a)
	}
}
