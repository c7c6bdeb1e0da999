package models

import (
	"errors"
	"fmt"
)

// APIError is a failure reported by a generation backend. Status is an HTTP-like status code and is
// zero when the backend did not provide one.
type APIError struct {
	Status  int
	Message string

	Err error
}

func (e *APIError) Error() string {
	if e.Message == "" && e.Status != 0 {
		return fmt.Sprintf("API Error: status %d", e.Status)
	}
	return "API Error: " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusOf returns the status code carried by the first APIError in err's chain, or zero.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
