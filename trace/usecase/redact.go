package usecase

import "strings"

// RedactedSentinel replaces the value of any sensitive key.
const RedactedSentinel = "***REDACTED***"

var sensitiveKeys = map[string]struct{}{
	"api_key":        {},
	"token":          {},
	"authorization":  {},
	"secret":         {},
	"password":       {},
	"apikey":         {},
	"bearer":         {},
	"x-api-key":      {},
	"webhook_secret": {},
}

// Redact walks a decoded JSON tree and replaces the value of every
// sensitive key (case-insensitive) with the sentinel. Key matching on the
// in-memory tree keeps the operation well-defined and idempotent.
func Redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if _, sensitive := sensitiveKeys[strings.ToLower(k)]; sensitive {
				out[k] = RedactedSentinel
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}
