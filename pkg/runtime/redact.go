package runtime

import "strings"

// Credential key fragments. Any argument key containing one of these
// is redacted before the value reaches the audit table or a log line.
var credentialFragments = []string{
	"token", "password", "secret", "api_key", "apikey", "database_url",
}

const redactedValue = "[REDACTED]"

func isCredentialKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range credentialFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Redact returns a deep copy of args with credential values replaced.
// The input map is never modified.
func Redact(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		if isCredentialKey(key) {
			out[key] = redactedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

// redactText masks key=value tokens with credential keys in free
// text, so skill feedback and failure reasons can be persisted and
// surfaced without leaking secrets. Unchanged input is returned as is,
// preserving its whitespace.
func redactText(s string) string {
	fields := strings.Fields(s)
	changed := false
	for i, tok := range fields {
		key, _, ok := strings.Cut(tok, "=")
		if ok && isCredentialKey(key) {
			fields[i] = key + "=" + redactedValue
			changed = true
		}
	}
	if !changed {
		return s
	}
	return strings.Join(fields, " ")
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Redact(v)
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			out[i] = redactValue(nested)
		}
		return out
	default:
		return value
	}
}
