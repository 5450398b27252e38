package agent

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/session"
	"github.com/jholhewres/rumpbot/pkg/rumpbot/usage"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantText   string
		wantTask   string
		wantCtx    string
		wantUrg    string
		wantNote   string
		wantNoWork bool
		wantErr    bool
	}{
		{
			name:       "plain chat",
			raw:        "Hello there!",
			wantText:   "Hello there!",
			wantNoWork: true,
		},
		{
			name:     "valid action block",
			raw:      `On it! <RUMPBOT_ACTION>{"type":"work_request","task":"fix the build","context":"CI is red","urgency":"normal"}</RUMPBOT_ACTION>`,
			wantText: "On it!",
			wantTask: "fix the build",
			wantCtx:  "CI is red",
			wantUrg:  "normal",
		},
		{
			name:     "quick urgency",
			raw:      `<RUMPBOT_ACTION>{"type":"work_request","task":"bump version","urgency":"quick"}</RUMPBOT_ACTION>done`,
			wantText: "done",
			wantTask: "bump version",
			wantUrg:  "quick",
		},
		{
			name:     "unknown urgency normalized",
			raw:      `ok <RUMPBOT_ACTION>{"type":"work_request","task":"deploy","urgency":"asap"}</RUMPBOT_ACTION>`,
			wantText: "ok",
			wantTask: "deploy",
			wantUrg:  "normal",
		},
		{
			name:       "action only yields placeholder",
			raw:        `<RUMPBOT_ACTION>{"type":"work_request","task":"deploy","urgency":"normal"}</RUMPBOT_ACTION>`,
			wantText:   placeholderReply,
			wantTask:   "deploy",
			wantUrg:    "normal",
			wantNoWork: false,
		},
		{
			name:       "malformed action json ignored",
			raw:        `sure <RUMPBOT_ACTION>{not json}</RUMPBOT_ACTION>`,
			wantText:   "sure",
			wantNoWork: true,
			wantErr:    true,
		},
		{
			name:       "wrong type ignored",
			raw:        `hm <RUMPBOT_ACTION>{"type":"reminder","task":"x"}</RUMPBOT_ACTION>`,
			wantText:   "hm",
			wantNoWork: true,
			wantErr:    true,
		},
		{
			name:       "empty task ignored",
			raw:        `hm <RUMPBOT_ACTION>{"type":"work_request","task":"  "}</RUMPBOT_ACTION>`,
			wantText:   "hm",
			wantNoWork: true,
			wantErr:    true,
		},
		{
			name:       "memory block extracted",
			raw:        "Got it.<TIFFBOT_MEMORY> user prefers tabs </TIFFBOT_MEMORY>",
			wantText:   "Got it.",
			wantNote:   "user prefers tabs",
			wantNoWork: true,
		},
		{
			name:       "empty memory block",
			raw:        "ok<TIFFBOT_MEMORY>   </TIFFBOT_MEMORY>",
			wantText:   "ok",
			wantNoWork: true,
		},
		{
			name:     "both blocks",
			raw:      `sure <RUMPBOT_ACTION>{"type":"work_request","task":"restart svc"}</RUMPBOT_ACTION> and <TIFFBOT_MEMORY>svc lives on host2</TIFFBOT_MEMORY>`,
			wantText: "sure  and",
			wantTask: "restart svc",
			wantUrg:  "normal",
			wantNote: "svc lives on host2",
		},
		{
			name:       "unterminated block left alone",
			raw:        "text <RUMPBOT_ACTION>{...",
			wantText:   "text <RUMPBOT_ACTION>{...",
			wantNoWork: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseReply(tt.raw)

			if got.text != tt.wantText {
				t.Errorf("text = %q, want %q", got.text, tt.wantText)
			}
			if strings.Contains(got.text, actionOpenTag) && tt.wantText != tt.raw {
				t.Errorf("text still contains action delimiter: %q", got.text)
			}
			if tt.wantNoWork {
				if got.work != nil {
					t.Fatalf("work = %+v, want nil", got.work)
				}
			} else {
				if got.work == nil {
					t.Fatal("work = nil, want a request")
				}
				if got.work.Task != tt.wantTask {
					t.Errorf("task = %q, want %q", got.work.Task, tt.wantTask)
				}
				if tt.wantCtx != "" && got.work.Context != tt.wantCtx {
					t.Errorf("context = %q, want %q", got.work.Context, tt.wantCtx)
				}
				if got.work.Urgency != tt.wantUrg {
					t.Errorf("urgency = %q, want %q", got.work.Urgency, tt.wantUrg)
				}
			}
			if got.memoryNote != tt.wantNote {
				t.Errorf("memoryNote = %q, want %q", got.memoryNote, tt.wantNote)
			}
			if (got.actionErr != nil) != tt.wantErr {
				t.Errorf("actionErr = %v, wantErr %v", got.actionErr, tt.wantErr)
			}
		})
	}
}

// fixedCaller returns a scripted result for every call and records requests.
type fixedCaller struct {
	mu    sync.Mutex
	res   *invoker.Result
	err   error
	calls []invoker.Request
}

func (f *fixedCaller) Call(_ context.Context, req invoker.Request) (*invoker.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.res, f.err
}

func newTestSessions(t *testing.T) *session.Store {
	t.Helper()
	return session.New(filepath.Join(t.TempDir(), "sessions.json"), nil)
}

func TestChatAgentHandleMessage(t *testing.T) {
	caller := &fixedCaller{res: &invoker.Result{
		Text:      `I'll get started. <RUMPBOT_ACTION>{"type":"work_request","task":"fix ci","urgency":"normal"}</RUMPBOT_ACTION>`,
		SessionID: "sess-123",
	}}
	sessions := newTestSessions(t)
	cfg := DefaultConfig()
	cfg.Instructions = "Be terse."

	chat := NewChatAgent(caller, sessions, nil, nil, cfg, nil)
	reply, err := chat.HandleMessage(context.Background(), "chat1", "please fix ci")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if reply.WorkRequest == nil || reply.WorkRequest.Task != "fix ci" {
		t.Fatalf("WorkRequest = %+v, want task fix ci", reply.WorkRequest)
	}
	if reply.Text != "I'll get started." {
		t.Errorf("Text = %q", reply.Text)
	}
	if got := sessions.SessionID("chat1", invoker.TierChat); got != "sess-123" {
		t.Errorf("stored session = %q, want sess-123", got)
	}

	if len(caller.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(caller.calls))
	}
	req := caller.calls[0]
	if req.MaxTurns != cfg.Tiers.Chat.MaxTurns {
		t.Errorf("MaxTurns = %d, want %d", req.MaxTurns, cfg.Tiers.Chat.MaxTurns)
	}
	if !strings.Contains(req.SystemPrompt, "Be terse.") {
		t.Error("system prompt missing instructions")
	}
	if req.Prompt != "please fix ci" {
		t.Errorf("Prompt = %q", req.Prompt)
	}
}

func TestChatAgentRecordsFailedCall(t *testing.T) {
	ulog, err := usage.Open(filepath.Join(t.TempDir(), "usage.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ulog.Close()

	caller := &fixedCaller{err: &invoker.CallError{Kind: invoker.ErrCLI, Message: "exit status 1"}}
	chat := NewChatAgent(caller, newTestSessions(t), nil, ulog, DefaultConfig(), nil)

	if _, err := chat.HandleMessage(context.Background(), "chat1", "hi"); err == nil {
		t.Fatal("expected the chat call failure to surface")
	}

	totals, err := ulog.AllTime()
	if err != nil {
		t.Fatalf("AllTime: %v", err)
	}
	if totals.Calls != 1 || totals.Errors != 1 {
		t.Errorf("totals = %+v, want one errored invocation record", totals)
	}
}

func TestChatAgentReusesSession(t *testing.T) {
	caller := &fixedCaller{res: &invoker.Result{Text: "hi", SessionID: "sess-9"}}
	sessions := newTestSessions(t)
	sessions.Set("chat1", "sess-old", ".", invoker.TierChat)

	chat := NewChatAgent(caller, sessions, nil, nil, DefaultConfig(), nil)
	if _, err := chat.HandleMessage(context.Background(), "chat1", "hello"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if caller.calls[0].SessionID != "sess-old" {
		t.Errorf("SessionID = %q, want sess-old", caller.calls[0].SessionID)
	}
	if got := sessions.SessionID("chat1", invoker.TierChat); got != "sess-9" {
		t.Errorf("stored session = %q, want sess-9", got)
	}
}
