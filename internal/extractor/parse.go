package extractor

import (
	"errors"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object found in response")

// extractJSON returns the first balanced JSON object in s, byte for byte.
// A wrapping markdown fence and surrounding prose are ignored; braces
// inside string literals do not count towards nesting.
func extractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if strings.HasPrefix(s, fence) {
			s = strings.TrimPrefix(s, fence)
			break
		}
	}
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	if start == -1 {
		return "", errNoJSONObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return strings.TrimSpace(s[start : i+1]), nil
			}
		}
	}
	return "", errors.New("unbalanced JSON object in response")
}
