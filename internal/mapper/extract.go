package mapper

import (
	"strings"

	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/pkg/apperror"
)

// ExtractJSON returns the first complete JSON object in text. Markdown code
// fences and surrounding prose are ignored; braces inside strings are not
// counted.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", apperror.Malformed("reply contains no JSON object", nil)
	}
	end := scanObject(text, start)
	if end < 0 {
		return "", apperror.Malformed("reply contains an unterminated JSON object", nil)
	}
	return text[start:end], nil
}

// extractCandidate decodes the first object in text that is a valid
// candidate. A brace in prose that does not open one is skipped.
func extractCandidate(text string) (*schema.Candidate, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, apperror.Malformed("reply contains no JSON object", nil)
	}

	var lastErr error
	for start >= 0 {
		if end := scanObject(text, start); end < 0 {
			lastErr = apperror.Malformed("reply contains an unterminated JSON object", nil)
		} else {
			c, err := schema.ParseCandidate([]byte(text[start:end]))
			if err == nil {
				return c, nil
			}
			lastErr = apperror.Malformed("reply is not a valid intent object", err)
		}

		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, lastErr
}

// scanObject returns the index just past the object opened at text[start],
// or -1 when it never closes.
func scanObject(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
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
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
