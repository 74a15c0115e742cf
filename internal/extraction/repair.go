package extraction

import "strings"

// cleanJSON strips markdown code fences and surrounding prose from an LLM
// response, keeping the outermost JSON value.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	text = strings.TrimSpace(text)

	// Keep from the first { or [ through the last } or ].
	objStart := strings.IndexAny(text, "{[")
	objEnd := strings.LastIndexAny(text, "}]")
	if objStart >= 0 && objEnd > objStart {
		text = text[objStart : objEnd+1]
	}

	return strings.TrimSpace(text)
}

// repairTruncatedJSON recovers a parseable prefix from JSON cut off at the
// output token limit. It scans brace depth outside of quoted strings to find
// the last syntactically complete object near the top level, discards
// everything after it, and re-closes any still-open array/object structure.
//
// Returns the repaired text, the number of discarded bytes, and whether a
// usable value was recovered. Already-valid JSON is returned unchanged with
// zero discarded bytes.
func repairTruncatedJSON(raw string) (string, int, bool) {
	var (
		inString bool
		escaped  bool
		stack    []byte
		lastIdx  = -1
		lastOpen []byte
	)

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return "", 0, false
			}
			stack = stack[:len(stack)-1]
			// Depth <=2 covers a completed array item inside the top-level
			// object as well as the top-level object itself.
			if len(stack) <= 2 {
				lastIdx = i
				lastOpen = append(lastOpen[:0], stack...)
			}
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return "", 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) <= 2 {
				lastIdx = i
				lastOpen = append(lastOpen[:0], stack...)
			}
		}
	}

	if !inString && len(stack) == 0 {
		return raw, 0, true
	}
	if lastIdx < 0 {
		return "", 0, false
	}

	var b strings.Builder
	b.WriteString(raw[:lastIdx+1])
	for j := len(lastOpen) - 1; j >= 0; j-- {
		if lastOpen[j] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}

	discarded := len(raw) - (lastIdx + 1)
	return b.String(), discarded, true
}
