// Package jsonextract pulls a JSON document out of free-form agent
// output. Agents are asked for raw JSON but routinely wrap it in prose
// or fenced code blocks.
package jsonextract

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON indicates no strategy produced a valid JSON document.
var ErrNoJSON = errors.New("no valid JSON found in text")

// ErrEmpty indicates the input was empty or whitespace.
var ErrEmpty = errors.New("empty text")

// Extract finds a JSON document inside text, trying in order:
//  1. the whole text,
//  2. the first fenced code block (```json or unlabeled),
//  3. a balanced {...} object respecting string escapes.
func Extract(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmpty
	}

	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	if block, ok := fromCodeBlock(trimmed); ok && json.Valid([]byte(block)) {
		return block, nil
	}

	if obj, ok := balancedObject(trimmed); ok && json.Valid([]byte(obj)) {
		return obj, nil
	}

	return "", ErrNoJSON
}

// fromCodeBlock returns the content of the first fenced code block.
func fromCodeBlock(text string) (string, bool) {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		rest := text[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		content := strings.TrimSpace(rest[:end])
		if content != "" {
			return content, true
		}
	}
	return "", false
}

// balancedObject walks braces to find the first balanced {...},
// skipping braces inside strings and honoring escapes.
func balancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}
