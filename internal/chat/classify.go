package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how a failure is presented to the user.
type Mode int

const (
	// ModeText presents failures of the streaming text pipeline.
	ModeText Mode = iota
	// ModeImage presents failures of the image pipeline.
	ModeImage
)

func (m Mode) String() string {
	if m == ModeImage {
		return "image"
	}
	return "text"
}

// Category is the failure taxonomy shared by the pipelines and the classifier.
type Category string

const (
	CategoryNone               Category = ""
	CategoryEnhancementFailure Category = "enhancement_failure"
	CategorySynthesisFailure   Category = "synthesis_failure"
	CategoryEmptyImageResult   Category = "empty_image_result"
	CategoryStreamFailure      Category = "stream_failure"
	CategoryClassifierFallback Category = "classifier_fallback"
)

// Classification is the outcome of classifying a failure.
type Classification struct {
	Category Category
	Text     string
}

const (
	apiErrorMarker = "API Error:"

	// FallbackText is shown when a failure carries nothing that can be presented.
	FallbackText = "Sorry, something unexpected went wrong. Please try again."

	// TextFailureText is shown for every text pipeline failure. The backend reason is only logged.
	TextFailureText = "Sorry, an error occurred while contacting GenzAI. Make sure your internet " +
		"connection is stable or try another model."

	imageFailureTemplate = "⚠️ Sorry, GenzAI could not create an image right now.\n\n" +
		"**Reason:** %s\n\n" +
		"Please try another prompt or wait a moment."

	defaultImageReason = "Failed to create image."
)

// CleanReason strips the leading API error marker and surrounding whitespace from a raw message.
func CleanReason(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, apiErrorMarker)
	return strings.TrimSpace(s)
}

// Classify maps a failure to a user-facing text. It never panics; a nil or blank failure yields
// the fallback text.
func Classify(err error, mode Mode) Classification {
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return Classification{Category: CategoryClassifierFallback, Text: FallbackText}
	}

	if mode == ModeText {
		return Classification{Category: CategoryStreamFailure, Text: TextFailureText}
	}

	category := CategorySynthesisFailure
	if errors.Is(err, ErrNoImage) {
		category = CategoryEmptyImageResult
	}

	reason := CleanReason(err.Error())
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		reason = CleanReason(synthErr.Reason)
	}
	if reason == "" {
		reason = defaultImageReason
	}

	return Classification{
		Category: category,
		Text:     fmt.Sprintf(imageFailureTemplate, reason),
	}
}
