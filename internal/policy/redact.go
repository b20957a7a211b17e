package policy

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

const redactedMarker = "[redacted]"

var (
	// Any run of 20+ alphanumerics is treated as a possible key or token.
	credentialPattern    = regexp.MustCompile(`[A-Za-z0-9]{20,}`)
	authorizationPattern = regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=\-]+`)
	emailPattern         = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// RedactCredentials masks credential-like content from text that may reach a
// user or a log line.
func RedactCredentials(value string) string {
	masked := authorizationPattern.ReplaceAllString(value, "$1 "+redactedMarker)
	masked = emailPattern.ReplaceAllString(masked, "[email_redacted]")
	return credentialPattern.ReplaceAllString(masked, redactedMarker)
}

// SanitizeError renders err for user-facing surfaces.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return RedactCredentials(err.Error())
}

// RedactJSON applies RedactCredentials to every string in payload. Payloads
// that are not JSON are redacted as plain text.
func RedactJSON(payload json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return append(json.RawMessage(nil), payload...)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return json.RawMessage(RedactCredentials(string(payload)))
	}

	encoded, err := json.Marshal(redactValue(decoded))
	if err != nil {
		return json.RawMessage(RedactCredentials(string(payload)))
	}
	return encoded
}

// Excerpt redacts an upstream response body and shortens it to at most limit
// bytes for error messages.
func Excerpt(body []byte, limit int) string {
	return Truncate(strings.TrimSpace(string(RedactJSON(body))), limit)
}

// Truncate cuts value to at most limit bytes on a rune boundary.
func Truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(typed))
		for key, child := range typed {
			cloned[key] = redactValue(child)
		}
		return cloned
	case []any:
		cloned := make([]any, 0, len(typed))
		for _, child := range typed {
			cloned = append(cloned, redactValue(child))
		}
		return cloned
	case string:
		return RedactCredentials(typed)
	default:
		return value
	}
}
