package agent

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/usage"
)

type funcCaller func(ctx context.Context, req invoker.Request) (*invoker.Result, error)

func (f funcCaller) Call(ctx context.Context, req invoker.Request) (*invoker.Result, error) {
	return f(ctx, req)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerExecutorOutcomes(t *testing.T) {
	task := Task{ID: "w1", Description: "test task", Prompt: "do it"}

	tests := []struct {
		name        string
		caller      funcCaller
		ctx         func() context.Context
		wantSuccess bool
		wantResult  string // substring
	}{
		{
			name: "successful call",
			caller: func(context.Context, invoker.Request) (*invoker.Result, error) {
				return &invoker.Result{Text: "all good", CostUSD: 0.05}, nil
			},
			wantSuccess: true,
			wantResult:  "all good",
		},
		{
			name: "assistant-level error",
			caller: func(context.Context, invoker.Request) (*invoker.Result, error) {
				return &invoker.Result{Text: "max turns hit", IsError: true}, nil
			},
			wantSuccess: false,
			wantResult:  "max turns hit",
		},
		{
			name: "call timeout",
			caller: func(context.Context, invoker.Request) (*invoker.Result, error) {
				return nil, &invoker.CallError{Kind: invoker.ErrTimeout, Message: "timed out"}
			},
			wantSuccess: false,
			wantResult:  "timed out",
		},
		{
			name: "plain cancellation reads as killed by user",
			caller: func(context.Context, invoker.Request) (*invoker.Result, error) {
				return nil, &invoker.CallError{Kind: invoker.ErrCancelled, Message: "cancelled"}
			},
			ctx: func() context.Context {
				ctx, cancel := context.WithCancelCause(context.Background())
				cancel(errKilledByUser)
				return ctx
			},
			wantSuccess: false,
			wantResult:  "killed by user",
		},
		{
			name: "stall kill reads as timed out",
			caller: func(context.Context, invoker.Request) (*invoker.Result, error) {
				return nil, &invoker.CallError{Kind: invoker.ErrCancelled, Message: "cancelled"}
			},
			ctx: func() context.Context {
				ctx, cancel := context.WithCancelCause(context.Background())
				cancel(errStallKilled)
				return ctx
			},
			wantSuccess: false,
			wantResult:  "timed out: no output",
		},
		{
			name: "other failures surface as worker error",
			caller: func(context.Context, invoker.Request) (*invoker.Result, error) {
				return nil, &invoker.CallError{Kind: invoker.ErrSpawn, Message: "binary not found"}
			},
			wantSuccess: false,
			wantResult:  "worker error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &workerExecutor{caller: tt.caller, cfg: testConfig(), logger: discardLogger()}
			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}

			res := exec.run(ctx, "chat1", task, "prompt", nil, nil)

			if res.TaskID != "w1" {
				t.Errorf("TaskID = %q", res.TaskID)
			}
			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", res.Success, tt.wantSuccess)
			}
			if !strings.Contains(res.Result, tt.wantResult) {
				t.Errorf("Result = %q, want substring %q", res.Result, tt.wantResult)
			}
		})
	}
}

func TestWorkerRecordsModelUsage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "usage.db")
	ulog, err := usage.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ulog.Close()

	caller := funcCaller(func(context.Context, invoker.Request) (*invoker.Result, error) {
		return &invoker.Result{
			Text:    "done",
			CostUSD: 0.02,
			ModelUsage: map[string]invoker.ModelTokens{
				"claude-sonnet": {InputTokens: 1200, OutputTokens: 300},
			},
		}, nil
	})
	exec := &workerExecutor{caller: caller, cfg: testConfig(), usage: ulog, logger: discardLogger()}
	exec.run(context.Background(), "chat1", Task{ID: "w1"}, "prompt", nil, nil)

	raw := lastModelUsage(t, dbPath)
	if !strings.Contains(raw, "claude-sonnet") || !strings.Contains(raw, "1200") {
		t.Errorf("persisted model_usage = %q, want the reported token counts", raw)
	}
}

// lastModelUsage reads the model_usage column of the newest invocation row.
func lastModelUsage(t *testing.T, dbPath string) string {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var raw string
	if err := db.QueryRow(`SELECT model_usage FROM invocations ORDER BY id DESC LIMIT 1`).Scan(&raw); err != nil {
		t.Fatalf("read model_usage: %v", err)
	}
	return raw
}

func TestIsTransientErrorText(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Error: 429 rate limit", true},
		{"Rate Limit exceeded", true},
		{"request timed out", true},
		{"ECONNRESET while fetching", true},
		{"socket hang up", true},
		{"server returned 503", true},
		{"assertion failed", false},
		{"killed by user", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isTransientErrorText(tt.text); got != tt.want {
			t.Errorf("isTransientErrorText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := truncate(long, 10)
	if !strings.HasPrefix(got, "xxxxxxxxxx") || !strings.HasSuffix(got, truncationMarker) {
		t.Errorf("truncate = %q", got)
	}
	if truncate("short", 10) != "short" {
		t.Error("short strings must pass through")
	}
	if truncate(long, 0) != long {
		t.Error("max <= 0 must disable truncation")
	}
}
