package collect

import "fmt"

// APIError represents a non-throttling failure of the collection service.
type APIError struct {
	StatusCode int
	Body       string
	Cause      error
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if e.Cause != nil {
		return fmt.Sprintf("collection service error (%d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("collection service error (%d): %s", e.StatusCode, body)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}
