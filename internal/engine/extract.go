package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrNoJSONObject is returned when a response contains no decodable {...}
// object.
var ErrNoJSONObject = errors.New("no JSON object in response")

// ExtractObject returns the first complete JSON object in a model response,
// dropping markdown fences and any prose around it. Braces in prose before
// or after the object are skipped.
func ExtractObject(raw string) (string, error) {
	for off := 0; off < len(raw); {
		i := strings.IndexByte(raw[off:], '{')
		if i < 0 {
			break
		}
		start := off + i
		var obj json.RawMessage
		if err := json.NewDecoder(strings.NewReader(raw[start:])).Decode(&obj); err == nil {
			return string(obj), nil
		}
		off = start + 1
	}
	return "", ErrNoJSONObject
}

// Truncate shortens s to at most n bytes on a rune boundary, for logging.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
