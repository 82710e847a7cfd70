package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a well-formed JSON object out of a model reply. Vision
// models wrap JSON in markdown fences or decorate it with comments often
// enough that the raw body rarely parses as-is; this strips fences and
// comments, slices the outermost object, and validates what is left. The
// returned bytes are exactly what will be persisted as the page artifact.
func ExtractJSON(raw string) (json.RawMessage, error) {
	cleaned := stripFences(strings.TrimSpace(raw))
	cleaned = stripComments(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object found in reply")
	}

	candidate := strings.TrimSpace(cleaned[start : end+1])
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("reply contains malformed JSON")
	}

	return json.RawMessage(candidate), nil
}

// stripFences removes a surrounding ```json / ``` markdown fence.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}

	// Drop the opening fence line ("```json", "```JSON", bare "```").
	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[idx+1:]
	} else {
		return strings.TrimPrefix(strings.TrimPrefix(s, "```json"), "```")
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// stripComments removes // line comments and /* */ block comments outside
// string literals. Models occasionally annotate generated JSON; comments
// inside quoted values (URLs and the like) must survive.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch {
		case ch == '"':
			inString = true
			b.WriteByte(ch)

		case ch == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}

		case ch == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++ // consume the trailing '/'

		default:
			b.WriteByte(ch)
		}
	}

	return b.String()
}
