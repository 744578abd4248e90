package executor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoJSON is returned when no balanced JSON object can be located in the
// tool's output.
var ErrNoJSON = errors.New("no JSON object found")

// ExtractJSON locates the first top-level JSON object in free-form text and
// returns it verbatim. The tool may wrap its payload in narrative text, so a
// depth-aware scan is used: brace depth is tracked outside string literals,
// which keeps braces inside strings (and escaped quotes) from confusing the
// match. The candidate is validated with the JSON decoder before being
// returned; an unbalanced or invalid candidate means scanning continues from
// the next opening brace.
func ExtractJSON(text string) (json.RawMessage, error) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}

		end, ok := scanObject(text, start)
		if !ok {
			continue
		}

		candidate := []byte(text[start:end])
		if json.Valid(candidate) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, fmt.Errorf("%w in %d bytes of output", ErrNoJSON, len(text))
}

// scanObject returns the index one past the matching close brace for the
// object starting at start, or false if the text ends first.
func scanObject(text string, start int) (int, bool) {
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
				return i + 1, true
			}
		}
	}
	return 0, false
}
