package corelog

import "regexp"

const redactedPlaceholder = "[REDACTED]"

// secretPattern matches a secret-like key (api_key, token, password,
// secret; case-insensitive) followed by a separator (=, :, or whitespace)
// and the value up to the next whitespace, quote, comma, semicolon, or end
// of string.
var secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret)(?:\s*[:=]\s*|\s+)([^\s"',;]+)`)

func redactString(s string) string {
	return secretPattern.ReplaceAllString(s, `$1=`+redactedPlaceholder)
}

// redactEntry rewrites secret-like substrings in message, context, and
// metadata to the literal [REDACTED], recursively. Idempotent: a second
// pass matches an already-redacted "key=[REDACTED]" again but rewrites it
// to the same text, and secret-named fields already hold the placeholder.
func redactEntry(e *LogEntry) {
	e.Message = redactString(e.Message)
	if e.Context != nil {
		e.Context = redactMap(e.Context)
	}
	if e.Metadata != nil {
		e.Metadata = redactMap(e.Metadata)
	}
}

func redactMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = redactValue(k, v)
	}
	return out
}

func redactValue(key string, v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if isSecretKey(key) {
			return redactedPlaceholder
		}
		return redactString(val)
	case map[string]interface{}:
		return redactMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = redactValue(key, item)
		}
		return out
	default:
		return v
	}
}

var secretKeyPattern = regexp.MustCompile(`(?i)^(api[_-]?key|token|password|secret)$`)

func isSecretKey(key string) bool {
	return secretKeyPattern.MatchString(key)
}
