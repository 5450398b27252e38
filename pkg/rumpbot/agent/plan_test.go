package agent

import (
	"fmt"
	"strings"
	"testing"
)

func TestParsePlan(t *testing.T) {
	valid := `{"type":"plan","summary":"two steps","sequential":true,
		"workers":[
			{"id":"w1","description":"first","prompt":"do a"},
			{"id":"w2","description":"second","prompt":"do b","dependsOn":["w1"]}
		]}`

	tests := []struct {
		name    string
		text    string
		wantErr bool
		check   func(t *testing.T, p *Plan)
	}{
		{
			name: "plain json",
			text: valid,
			check: func(t *testing.T, p *Plan) {
				if !p.Sequential || len(p.Workers) != 2 {
					t.Fatalf("plan = %+v", p)
				}
				if p.Workers[1].DependsOn[0] != "w1" {
					t.Errorf("dependsOn = %v", p.Workers[1].DependsOn)
				}
			},
		},
		{
			name: "fenced json",
			text: "```json\n" + valid + "\n```",
			check: func(t *testing.T, p *Plan) {
				if p.Summary != "two steps" {
					t.Errorf("summary = %q", p.Summary)
				}
			},
		},
		{
			name: "json embedded in prose",
			text: "Here is the plan:\n" + valid + "\nGood luck!",
			check: func(t *testing.T, p *Plan) {
				if len(p.Workers) != 2 {
					t.Errorf("workers = %d", len(p.Workers))
				}
			},
		},
		{name: "no json at all", text: "Sorry, cannot plan.", wantErr: true},
		{name: "no workers", text: `{"type":"plan","summary":"x","workers":[]}`, wantErr: true},
		{
			name:    "duplicate ids",
			text:    `{"type":"plan","workers":[{"id":"w1","prompt":"a"},{"id":"w1","prompt":"b"}]}`,
			wantErr: true,
		},
		{
			name:    "empty prompt",
			text:    `{"type":"plan","workers":[{"id":"w1","prompt":"  "}]}`,
			wantErr: true,
		},
		{
			name:    "forward dependency",
			text:    `{"type":"plan","workers":[{"id":"w1","prompt":"a","dependsOn":["w2"]},{"id":"w2","prompt":"b"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := parsePlan(tt.text, 10)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parsePlan succeeded, want error; plan = %+v", plan)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePlan: %v", err)
			}
			tt.check(t, plan)
		})
	}
}

func TestParsePlanCapsWorkers(t *testing.T) {
	var workers []string
	for i := 1; i <= 14; i++ {
		workers = append(workers, fmt.Sprintf(`{"id":"w%d","prompt":"task %d"}`, i, i))
	}
	text := fmt.Sprintf(`{"type":"plan","summary":"big","workers":[%s]}`, strings.Join(workers, ","))

	plan, err := parsePlan(text, 10)
	if err != nil {
		t.Fatalf("parsePlan: %v", err)
	}
	if len(plan.Workers) != 10 {
		t.Fatalf("workers = %d, want 10", len(plan.Workers))
	}
	for i, w := range plan.Workers {
		if want := fmt.Sprintf("w%d", i+1); w.ID != want {
			t.Errorf("worker %d id = %q, want %q", i, w.ID, want)
		}
	}
}

func TestPlanDescribe(t *testing.T) {
	plan := &Plan{Workers: []Task{
		{ID: "w1", Description: "fetch data", Prompt: "x"},
		{ID: "w2", Prompt: "y", DependsOn: []string{"w1"}},
	}}
	got := plan.describe()
	if !strings.Contains(got, "1. fetch data") {
		t.Errorf("describe missing first entry: %q", got)
	}
	if !strings.Contains(got, "2. w2 (after w1)") {
		t.Errorf("describe missing dependency note: %q", got)
	}
}
