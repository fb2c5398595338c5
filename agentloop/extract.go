package agentloop

import (
	"encoding/json"
	"regexp"
	"strings"
)

// The extractor recovers a machine-readable outcome from a model's
// free-form closing text. Strategies are attempted in order until one
// yields a parseable JSON object; every strategy is wrapped so a parse
// failure falls through to the next, and the final fallback is the
// caller-supplied default. Extraction never panics and never errors.

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")
	looseObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// ExtractJSON finds the first syntactically complete JSON object in text.
// It tries, in order: the whole text, fenced code blocks, a brace-balanced
// scan, and a permissive whole-span regexp.
func ExtractJSON(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)

	if raw, ok := tryObject(trimmed); ok {
		return raw, true
	}

	for _, match := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		if raw, ok := tryObject(strings.TrimSpace(match[1])); ok {
			return raw, true
		}
	}

	if candidate := scanBalancedObject(text); candidate != "" {
		if raw, ok := tryObject(candidate); ok {
			return raw, true
		}
	}

	if candidate := looseObjectRe.FindString(text); candidate != "" {
		if raw, ok := tryObject(candidate); ok {
			return raw, true
		}
	}

	return nil, false
}

// tryObject parses s as a JSON object.
func tryObject(s string) (json.RawMessage, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// scanBalancedObject finds the first brace-balanced span starting at the
// first "{", respecting quoted strings and escape sequences.
func scanBalancedObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return ""
}

// Decode extracts a typed outcome from free text. The parsed object must
// carry the marker key (e.g. "results" or "fixed") to be accepted; on any
// failure the caller-supplied fallback is returned unchanged.
func Decode[T any](text string, marker string, fallback T) T {
	raw, ok := ExtractJSON(text)
	if !ok {
		return fallback
	}

	if marker != "" {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return fallback
		}
		if _, has := probe[marker]; !has {
			return fallback
		}
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return fallback
	}
	return out
}
