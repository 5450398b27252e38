package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/invoker"
)

func openTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "usage.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndAllTime(t *testing.T) {
	l := openTestLogger(t)

	records := []Record{
		{ChatID: "c1", Tier: invoker.TierChat, CostUSD: 0.01, NumTurns: 1, DurationMS: 500},
		{ChatID: "c1", Tier: invoker.TierOrchestrator, CostUSD: 0.05, NumTurns: 1, DurationMS: 1500},
		{ChatID: "c1", Tier: invoker.TierWorker, CostUSD: 0.10, NumTurns: 4, DurationMS: 9000, IsError: true},
	}
	for _, rec := range records {
		if err := l.Record(rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	totals, err := l.AllTime()
	if err != nil {
		t.Fatalf("AllTime: %v", err)
	}
	if totals.Calls != 3 || totals.Turns != 6 || totals.Errors != 1 || totals.WallMS != 11000 {
		t.Errorf("totals = %+v", totals)
	}
	if diff := totals.CostUSD - 0.16; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CostUSD = %v, want 0.16", totals.CostUSD)
	}
}

func TestRecordModelUsage(t *testing.T) {
	l := openTestLogger(t)
	err := l.Record(Record{
		ChatID: "c1",
		Tier:   invoker.TierWorker,
		ModelUsage: map[string]invoker.ModelTokens{
			"claude-sonnet": {InputTokens: 1000, OutputTokens: 200},
		},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	totals, err := l.AllTime()
	if err != nil || totals.Calls != 1 {
		t.Errorf("AllTime after model usage record = %+v, %v", totals, err)
	}
}

func TestDaily(t *testing.T) {
	l := openTestLogger(t)
	now := time.Now()
	l.Record(Record{ChatID: "c1", Tier: invoker.TierChat, CostUSD: 0.02, Timestamp: now})
	l.Record(Record{ChatID: "c1", Tier: invoker.TierChat, CostUSD: 0.03, Timestamp: now})

	days, err := l.Daily(7)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("len(days) = %d, want 1", len(days))
	}
	if days[0].Calls != 2 {
		t.Errorf("Calls = %d, want 2", days[0].Calls)
	}
	if days[0].Day != now.UTC().Format("2006-01-02") {
		t.Errorf("Day = %q", days[0].Day)
	}
}
