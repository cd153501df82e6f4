package llm

import "fmt"

// APIError represents a non-throttling failure of the generation provider
type APIError struct {
	Model   string
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation failed (%s): %s: %v", e.Model, e.Message, e.Cause)
	}
	return fmt.Sprintf("generation failed (%s): %s", e.Model, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// ParseError represents a generation response that could not be decoded as the expected JSON
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	if e.Cause != nil {
		return fmt.Sprintf("malformed generation response: %v (raw: %q)", e.Cause, raw)
	}
	return fmt.Sprintf("malformed generation response (raw: %q)", raw)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
