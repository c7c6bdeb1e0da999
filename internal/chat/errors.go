package chat

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
)

var (
	// ErrNoImage is raised when image synthesis succeeds without producing an image payload.
	ErrNoImage = errors.New("failed to generate image (no image output)")

	// ErrRequestInFlight is returned by Begin while the session is still answering a request.
	ErrRequestInFlight = errors.New("a request is already in progress")

	// ErrEmptyMessage is returned by Begin for blank user text.
	ErrEmptyMessage = errors.New("message is required")
)

// SynthesisError is the single failure the image pipeline raises. Reason is the presentable
// explanation, already cleaned and made status specific.
type SynthesisError struct {
	Status int
	Reason string

	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("image synthesis failed: %s", e.Reason)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// newSynthesisError clarifies a synthesis failure. Quota and missing-model statuses get their own
// phrasing in front of the backend reason.
func newSynthesisError(err error) *SynthesisError {
	status := models.StatusOf(err)

	reason := ""
	if err != nil {
		reason = CleanReason(err.Error())
	}

	switch status {
	case http.StatusTooManyRequests:
		reason = joinReason("The image service is busy or its quota limit has been reached.", reason)
	case http.StatusNotFound:
		reason = joinReason("The image model is not available right now.", reason)
	default:
		if reason == "" {
			reason = defaultImageReason
		}
	}

	return &SynthesisError{
		Status: status,
		Reason: reason,
		Err:    err,
	}
}

func joinReason(prefix, reason string) string {
	if reason == "" {
		return prefix
	}
	return prefix + " " + reason
}
