package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RequestError is returned for non-2xx responses. When the body is a JSON
// status object its fields are populated, otherwise only the HTTP status is.
type RequestError struct {
	StatusCode int
	Status     string

	Code    int               `json:"code"`
	Message string            `json:"message"`
	Details []json.RawMessage `json:"details,omitempty"`

	// Body is the raw response body.
	Body []byte `json:"-"`
}

// NewRequestError builds a RequestError from a response status and body.
func NewRequestError(statusCode int, body []byte) *RequestError {
	e := &RequestError{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Body:       body,
	}

	var parsed struct {
		Code    int               `json:"code"`
		Message string            `json:"message"`
		Details []json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Code = parsed.Code
		e.Message = parsed.Message
		e.Details = parsed.Details
	}
	return e
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("turnkey error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Status)
}
