package image

import (
	"context"
	"fmt"
)

// Request is the normalized generation request passed to any provider.
// Options is an opaque bag; each adapter reads the keys it understands and
// silently ignores the rest, so forwarding another provider's options never
// fails a request.
type Request struct {
	Prompt    string
	Model     string
	Count     int
	Options   map[string]any
	RequestID string
}

// RawImage is a single produced image before persistence: either inline
// bytes, a base64 payload, or a fetchable reference.
type RawImage struct {
	Data []byte
	B64  string
	URL  string
	MIME string
}

// Result carries a provider's output along with the model that actually
// served the request.
type Result struct {
	Images []RawImage
	Model  string
}

// Generator is the capability contract implemented by every vendor adapter.
// Implementations clamp Count to the vendor's documented maximum and return
// typed errors; they never panic across this boundary.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// ErrorCode classifies provider failures for reconciliation and logging.
type ErrorCode string

const (
	ErrCodeAuth        ErrorCode = "auth"
	ErrCodeRateLimited ErrorCode = "rate_limited"
	ErrCodeInvalid     ErrorCode = "invalid_request"
	ErrCodeSafety      ErrorCode = "safety"
	ErrCodeTimeout     ErrorCode = "timeout"
	ErrCodeUnavailable ErrorCode = "unavailable"
	ErrCodeAPI         ErrorCode = "api_error"
)

// ProviderError is the typed failure every adapter returns. The orchestrator
// records Error() verbatim as the user-visible provider error string.
type ProviderError struct {
	Provider string
	Code     ErrorCode
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewError builds a ProviderError with a formatted message.
func NewError(provider string, code ErrorCode, format string, args ...any) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: fmt.Sprintf(format, args...)}
}

// optString reads a string option, tolerating absent or mistyped values.
func optString(options map[string]any, key string) string {
	if options == nil {
		return ""
	}
	if v, ok := options[key].(string); ok {
		return v
	}
	return ""
}
