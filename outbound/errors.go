package outbound

import "fmt"

// Error kinds recorded on the trace when dispatch fails.
const (
	ErrKindBotMissing = "outbound_bot_missing"
	ErrKindTimeout    = "outbound_timeout"
	ErrKindHTTP       = "outbound_http"
	ErrKindTransport  = "outbound_transport"
)

// SendError classifies a single outbound attempt failure.
type SendError struct {
	Kind       string
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (http %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed: connect errors,
// timeouts and 5xx are transient; 4xx and a missing bot socket are not.
func (e *SendError) Retryable() bool {
	switch e.Kind {
	case ErrKindTransport, ErrKindTimeout:
		return true
	case ErrKindHTTP:
		return e.StatusCode >= 500
	default:
		return false
	}
}
