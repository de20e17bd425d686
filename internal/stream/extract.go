package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSON = errors.New("no json object found")

// ExtractJSON decodes the first balanced JSON object found in text into v.
// Objects that fail to decode or never close are skipped.
func ExtractJSON(text string, v any) error {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end >= 0 {
			if err := json.Unmarshal([]byte(text[start:end+1]), v); err == nil {
				return nil
			}
		}

		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	return fmt.Errorf("extract json: %w", ErrNoJSON)
}

// matchBrace returns the index of the brace closing the object opened at start,
// or -1. Braces inside JSON strings are ignored.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
