package agent

// StatusType classifies a status update for the chat surface.
type StatusType string

const (
	// StatusProgress is a transient progress line. The surface may
	// coalesce these into in-place edits.
	StatusProgress StatusType = "status"

	// StatusPlanBreakdown announces the plan after the planning phase.
	StatusPlanBreakdown StatusType = "plan_breakdown"

	// StatusWorkerComplete reports a single worker finishing.
	StatusWorkerComplete StatusType = "worker_complete"
)

// StatusUpdate is pushed to the chat surface while an orchestration runs.
type StatusUpdate struct {
	Type    StatusType
	Message string

	// Progress is an optional short progress descriptor like "2/5".
	Progress string

	// Important updates must be delivered as new, notifying messages.
	// Everything else may be rate-limited and rendered as edits.
	Important bool
}

// StatusFunc receives status updates. Implementations must not block; the
// orchestrator calls them synchronously from its scheduling loop.
type StatusFunc func(StatusUpdate)

// emit is a nil-safe StatusFunc call.
func (f StatusFunc) emit(u StatusUpdate) {
	if f != nil {
		f(u)
	}
}
