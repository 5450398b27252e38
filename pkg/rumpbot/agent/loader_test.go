package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfigOverlaysDefaults(t *testing.T) {
	data := []byte(`
name: testbot
binary: /usr/local/bin/assistant
tiers:
  worker:
    model: fast-model
    max_turns: 5
orchestrator:
  max_workers: 3
  retry_backoff_seconds: 1
logging:
  level: debug
  format: text
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.Name != "testbot" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Binary != "/usr/local/bin/assistant" {
		t.Errorf("Binary = %q", cfg.Binary)
	}
	if cfg.Tiers.Worker.Model != "fast-model" || cfg.Tiers.Worker.MaxTurns != 5 {
		t.Errorf("worker tier = %+v", cfg.Tiers.Worker)
	}
	// Untouched fields keep their defaults.
	if cfg.Tiers.Chat.MaxTurns != 10 {
		t.Errorf("chat MaxTurns = %d, want default 10", cfg.Tiers.Chat.MaxTurns)
	}
	if cfg.Orchestrator.MaxWorkers != 3 {
		t.Errorf("MaxWorkers = %d", cfg.Orchestrator.MaxWorkers)
	}
	if cfg.Orchestrator.MaxResultChars != 8000 {
		t.Errorf("MaxResultChars = %d, want default 8000", cfg.Orchestrator.MaxResultChars)
	}
	if cfg.Orchestrator.RetryBackoff() != time.Second {
		t.Errorf("RetryBackoff = %s", cfg.Orchestrator.RetryBackoff())
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestDefaultConfigConstants(t *testing.T) {
	cfg := DefaultConfig()
	o := cfg.Orchestrator

	if o.MaxWorkers != 10 {
		t.Errorf("MaxWorkers = %d", o.MaxWorkers)
	}
	if o.MaxResultChars != 8000 {
		t.Errorf("MaxResultChars = %d", o.MaxResultChars)
	}
	if o.WorkerTimeout() != 5*time.Minute {
		t.Errorf("WorkerTimeout = %s", o.WorkerTimeout())
	}
	if o.Heartbeat() != time.Minute {
		t.Errorf("Heartbeat = %s", o.Heartbeat())
	}
	if o.StallWarning() != 2*time.Minute {
		t.Errorf("StallWarning = %s", o.StallWarning())
	}
	if o.StallKill() != 5*time.Minute {
		t.Errorf("StallKill = %s", o.StallKill())
	}
	if o.Timeout() != time.Hour {
		t.Errorf("Timeout = %s", o.Timeout())
	}
	if o.SummaryTimeout() != 30*time.Second {
		t.Errorf("SummaryTimeout = %s", o.SummaryTimeout())
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RUMPBOT_TEST_TOKEN", "secret-token")

	tests := []struct {
		in   string
		want string
	}{
		{"token: ${RUMPBOT_TEST_TOKEN}", "token: secret-token"},
		{"path: ${RUMPBOT_TEST_MISSING:-/tmp/data}", "path: /tmp/data"},
		{"path: ${RUMPBOT_TEST_MISSING}", "path: "},
		{"plain text", "plain text"},
		{"${RUMPBOT_TEST_TOKEN}-${RUMPBOT_TEST_TOKEN}", "secret-token-secret-token"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RUMPBOT_TEST_NAME", "envbot")

	path := filepath.Join(dir, "config.yaml")
	content := "name: ${RUMPBOT_TEST_NAME}\ndata_dir: ./state\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.Name != "envbot" {
		t.Errorf("Name = %q, want envbot", cfg.Name)
	}
	if want := filepath.Join(dir, "state"); cfg.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, want)
	}
}
