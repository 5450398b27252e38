package invoker

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON payload (object or array) out of raw assistant
// stdout. The CLI usually prints clean JSON, but wrapped output happens:
// markdown fences, leading log lines, trailing noise. Four strategies are
// tried in order:
//
//  1. parse the entire trimmed text
//  2. strip a single markdown fence and parse
//  3. brace-match the outermost object containing a "type" key
//  4. brace-match the largest object ending at the last "}"
func ExtractJSON(text string) (any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	if payload, ok := tryParse(trimmed); ok {
		return payload, true
	}
	if payload, ok := tryParse(stripFence(trimmed)); ok {
		return payload, true
	}
	if payload, ok := typedObject(trimmed); ok {
		return payload, true
	}
	return terminalObject(trimmed)
}

// tryParse accepts only JSON objects and arrays; bare strings and numbers
// are not useful payloads.
func tryParse(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var payload any
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, false
	}
	switch payload.(type) {
	case map[string]any, []any:
		return payload, true
	}
	return nil, false
}

// stripFence removes a single ``` or ```json fence wrapping the text.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// typedObject finds the outermost object that contains a "type" key by
// brace-matching forward from each candidate opening brace.
func typedObject(s string) (any, bool) {
	typeIdx := strings.Index(s, `"type"`)
	if typeIdx < 0 {
		return nil, false
	}
	for start := 0; start < typeIdx; start++ {
		if s[start] != '{' {
			continue
		}
		end := matchBrace(s, start)
		if end <= typeIdx {
			continue
		}
		if payload, ok := tryParse(s[start : end+1]); ok {
			return payload, true
		}
	}
	return nil, false
}

// terminalObject scans brace depth backward from the last "}" to find the
// largest balanced object that ends the text.
func terminalObject(s string) (any, bool) {
	last := strings.LastIndexByte(s, '}')
	if last < 0 {
		return nil, false
	}
	depth := 0
	for i := last; i >= 0; i-- {
		switch s[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return tryParse(s[i : last+1])
			}
		}
	}
	return nil, false
}

// matchBrace returns the index of the "}" closing the "{" at start, or -1.
// String contents are skipped so braces inside values don't break matching.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
