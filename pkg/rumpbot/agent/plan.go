package agent

import (
	"fmt"
	"strings"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
)

// Task is one unit of work inside a plan.
type Task struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	DependsOn   []string `json:"dependsOn"`
}

// Plan is the planner's decomposition of a work request.
type Plan struct {
	Summary    string `json:"summary"`
	Sequential bool   `json:"sequential"`
	Workers    []Task `json:"workers"`
}

// parsePlan extracts a plan from the planner's reply text using the same
// JSON fallbacks the invoker applies to CLI output, then validates it.
// maxWorkers truncates oversized plans rather than rejecting them.
func parsePlan(text string, maxWorkers int) (*Plan, error) {
	payload, ok := invoker.ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in planner reply")
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("planner reply is not a JSON object")
	}

	plan := &Plan{
		Summary:    stringField(obj, "summary"),
		Sequential: boolField(obj, "sequential"),
	}

	rawWorkers, ok := obj["workers"].([]any)
	if !ok || len(rawWorkers) == 0 {
		return nil, fmt.Errorf("plan has no workers")
	}
	for _, rw := range rawWorkers {
		wobj, ok := rw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("plan worker is not an object")
		}
		task := Task{
			ID:          strings.TrimSpace(stringField(wobj, "id")),
			Description: stringField(wobj, "description"),
			Prompt:      strings.TrimSpace(stringField(wobj, "prompt")),
		}
		if deps, ok := wobj["dependsOn"].([]any); ok {
			for _, d := range deps {
				if id, ok := d.(string); ok && id != "" {
					task.DependsOn = append(task.DependsOn, id)
				}
			}
		}
		plan.Workers = append(plan.Workers, task)
	}

	if maxWorkers > 0 && len(plan.Workers) > maxWorkers {
		plan.Workers = plan.Workers[:maxWorkers]
	}

	if err := plan.validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// validate checks the plan invariants: unique non-empty ids, non-empty
// prompts, and dependsOn referencing only earlier workers (which also rules
// out cycles).
func (p *Plan) validate() error {
	seen := make(map[string]bool, len(p.Workers))
	for i, w := range p.Workers {
		if w.ID == "" {
			return fmt.Errorf("worker %d has no id", i+1)
		}
		if seen[w.ID] {
			return fmt.Errorf("duplicate worker id %q", w.ID)
		}
		if w.Prompt == "" {
			return fmt.Errorf("worker %q has no prompt", w.ID)
		}
		for _, dep := range w.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("worker %q depends on %q which is not an earlier worker", w.ID, dep)
			}
		}
		seen[w.ID] = true
	}
	return nil
}

// describe renders the numbered task list shown in plan-breakdown updates
// and in worker context blocks.
func (p *Plan) describe() string {
	var b strings.Builder
	for i, w := range p.Workers {
		label := w.Description
		if label == "" {
			label = w.ID
		}
		fmt.Fprintf(&b, "%d. %s", i+1, label)
		if len(w.DependsOn) > 0 {
			fmt.Fprintf(&b, " (after %s)", strings.Join(w.DependsOn, ", "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
