package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

type itemsEnvelope struct {
	Items []RawItem `json:"items"`
}

// DecodePayload turns the model's content string into raw items. Models
// answer in several shapes: the declared {"items": [...]} envelope, a bare
// array, or either of those wrapped in markdown fences or prose. Strict
// decode runs first; the recovery pass pattern-extracts the first embedded
// array or object before giving up with ErrMalformedResponse.
func DecodePayload(content []byte) ([]RawItem, error) {
	text := stripFences(strings.TrimSpace(string(content)))

	if items, err := decodeShape([]byte(text)); err == nil {
		return items, nil
	}

	if frag := firstJSONFragment(text); frag != "" {
		if items, err := decodeShape([]byte(frag)); err == nil {
			return items, nil
		}
	}

	return nil, eris.Wrap(ErrMalformedResponse, "no decodable items payload")
}

// decodeShape accepts the envelope form and the bare-array form.
func decodeShape(doc []byte) ([]RawItem, error) {
	var env itemsEnvelope
	if err := json.Unmarshal(doc, &env); err == nil && env.Items != nil {
		return env.Items, nil
	}

	var arr []RawItem
	if err := json.Unmarshal(doc, &arr); err == nil {
		return arr, nil
	}

	return nil, eris.New("payload is neither an items envelope nor an array")
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop the language tag line ("json", "JSON", or empty)
		first := strings.TrimSpace(s[:i])
		if len(first) <= 8 {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstJSONFragment returns the first balanced JSON array or object
// embedded in s, or "" when none closes.
func firstJSONFragment(s string) string {
	start := -1
	var open, closer byte
	for i := 0; i < len(s); i++ {
		if s[i] == '[' || s[i] == '{' {
			start = i
			open = s[i]
			if open == '[' {
				closer = ']'
			} else {
				closer = '}'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

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
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
