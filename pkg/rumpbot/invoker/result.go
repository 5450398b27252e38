package invoker

import (
	"fmt"
	"strings"
)

// ModelTokens aggregates token counts for one model within a call.
type ModelTokens struct {
	InputTokens              int64
	OutputTokens             int64
	CacheReadInputTokens     int64
	CacheCreationInputTokens int64
}

// Result is the normalized outcome of an assistant CLI call.
type Result struct {
	// Text is the assistant's answer (or a friendly error description when
	// IsError is set).
	Text string

	// IsError marks assistant-level failures (error subtypes, is_error flag).
	// Process-level failures surface as *CallError instead.
	IsError bool

	// Subtype is the raw result subtype reported by the CLI, when any.
	Subtype string

	// SessionID is the handle for resuming this conversation.
	SessionID string

	StopReason    string
	CostUSD       float64
	DurationMS    int64
	DurationAPIMS int64
	NumTurns      int

	// ModelUsage maps model name to its token counters.
	ModelUsage map[string]ModelTokens

	// Raw is the decoded JSON object the result was read from, when the CLI
	// returned one. Callers use it for fields outside the normalized set.
	Raw map[string]any
}

// resultFromPayload normalizes a parsed CLI payload. The CLI has emitted both
// snake_case and lowercase-fused key forms across versions, so every field is
// read under both spellings.
func resultFromPayload(payload any) *Result {
	switch p := payload.(type) {
	case map[string]any:
		return resultFromObject(p)
	case []any:
		return resultFromArray(p)
	default:
		return &Result{Text: couldNotParseMessage()}
	}
}

// resultFromArray handles stream-style array payloads: prefer the element
// with type=="result", otherwise join all text fields.
func resultFromArray(items []any) *Result {
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := obj["type"].(string); t == "result" {
			return resultFromObject(obj)
		}
	}

	var parts []string
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := obj["text"].(string); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return &Result{Text: strings.Join(parts, "\n")}
}

func resultFromObject(obj map[string]any) *Result {
	res := &Result{
		Subtype:       getString(obj, "subtype"),
		SessionID:     getString(obj, "session_id", "sessionid"),
		StopReason:    getString(obj, "stop_reason", "stopreason"),
		CostUSD:       getFloat(obj, "total_cost_usd", "totalcostusd", "cost_usd", "costusd"),
		DurationMS:    getInt(obj, "duration_ms", "durationms"),
		DurationAPIMS: getInt(obj, "duration_api_ms", "durationapims"),
		NumTurns:      int(getInt(obj, "num_turns", "numturns")),
		IsError:       getBool(obj, "is_error", "iserror"),
		ModelUsage:    modelUsage(obj),
		Raw:           obj,
	}

	text, hasText := resultText(obj)

	switch {
	case res.Subtype == "error_max_turns":
		res.IsError = true
		res.Text = "The assistant hit its max-turns limit before finishing. Try a narrower request."
	case strings.HasPrefix(res.Subtype, "error"):
		res.IsError = true
		detail := text
		if detail == "" {
			detail = res.Subtype
		}
		res.Text = fmt.Sprintf("The assistant reported an error: %s", detail)
	case hasText:
		res.Text = text
	default:
		res.Text = couldNotParseMessage()
	}
	return res
}

// resultText reads the answer from "result" or "content". Content may be a
// plain string or an array of {text} blocks.
func resultText(obj map[string]any) (string, bool) {
	if s, ok := obj["result"].(string); ok {
		return s, true
	}
	switch content := obj["content"].(type) {
	case string:
		return content, true
	case []any:
		var parts []string
		for _, block := range content {
			if m, ok := block.(map[string]any); ok {
				if text, ok := m["text"].(string); ok && text != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n"), true
	}
	return "", false
}

func modelUsage(obj map[string]any) map[string]ModelTokens {
	raw, ok := obj["modelUsage"].(map[string]any)
	if !ok {
		raw, ok = obj["model_usage"].(map[string]any)
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	usage := make(map[string]ModelTokens, len(raw))
	for model, v := range raw {
		counts, ok := v.(map[string]any)
		if !ok {
			continue
		}
		usage[model] = ModelTokens{
			InputTokens:              getInt(counts, "inputTokens", "input_tokens"),
			OutputTokens:             getInt(counts, "outputTokens", "output_tokens"),
			CacheReadInputTokens:     getInt(counts, "cacheReadInputTokens", "cache_read_input_tokens"),
			CacheCreationInputTokens: getInt(counts, "cacheCreationInputTokens", "cache_creation_input_tokens"),
		}
	}
	return usage
}

func couldNotParseMessage() string {
	return "I could not parse the assistant's response."
}

// ── dual-casing field readers ──

func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}

func getFloat(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return 0
}

func getInt(m map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case int64:
			return v
		}
	}
	return 0
}

func getBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := m[k].(bool); ok {
			return b
		}
	}
	return false
}
