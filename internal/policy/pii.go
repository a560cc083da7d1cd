// Package policy sanitizes user-supplied feedback text before it is
// persisted into proposals and the event log.
package policy

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`)
	tokenPattern = regexp.MustCompile(`\b(?:sk|pk|api|key|tok)[-_][A-Za-z0-9_\-]{16,}\b`)
)

// MaskPIIString redacts emails, phone numbers and credential-shaped tokens.
func MaskPIIString(value string) string {
	masked := emailPattern.ReplaceAllString(value, "[email_redacted]")
	masked = phonePattern.ReplaceAllString(masked, "[phone_redacted]")
	masked = tokenPattern.ReplaceAllString(masked, "[token_redacted]")
	return masked
}

// MaskPIIJSON walks a JSON document and masks every string value.
// Invalid JSON is masked as raw text.
func MaskPIIJSON(payload json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return append(json.RawMessage(nil), payload...)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return json.RawMessage(MaskPIIString(string(payload)))
	}

	encoded, err := json.Marshal(maskValue(decoded))
	if err != nil {
		return append(json.RawMessage(nil), payload...)
	}
	return encoded
}

func maskValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(typed))
		for key, child := range typed {
			cloned[key] = maskValue(child)
		}
		return cloned
	case []any:
		cloned := make([]any, 0, len(typed))
		for _, child := range typed {
			cloned = append(cloned, maskValue(child))
		}
		return cloned
	case string:
		return MaskPIIString(typed)
	default:
		return value
	}
}
