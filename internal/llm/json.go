// json.go recovers the JSON payload from model replies. Models are told to
// answer inside a ```json fence but frequently add prose around it or drop the
// language tag, so extraction is forgiving about the wrapping.
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ExtractJSON returns the JSON payload of a model reply. A ```json fence wins
// wherever it sits in the reply, an unterminated fence yields everything after
// it, and a reply without one is returned with any bare backtick fences
// trimmed.
func ExtractJSON(reply string) string {
	if _, after, found := strings.Cut(reply, "```json"); found {
		after = strings.TrimPrefix(after, "\n")
		if body, _, closed := strings.Cut(after, "```"); closed {
			return strings.TrimSpace(body)
		}
		return strings.TrimSpace(after)
	}
	trimmed := strings.TrimSpace(reply)
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// Extract decodes the JSON payload of a model reply into T.
func Extract[T any](reply string) (T, error) {
	var out T
	payload := ExtractJSON(reply)
	if payload == "" {
		return out, errors.New("empty model reply")
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("decode model reply: %w", err)
	}
	return out, nil
}
