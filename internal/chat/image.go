package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"go.uber.org/zap"
)

// PromptEnhancer rewrites a raw image request into a more detailed prompt.
type PromptEnhancer interface {
	Enhance(ctx context.Context, text string) (string, error)
}

// ImageSynthesizer generates a single image for prompt and returns it as a data URI. An empty
// result without an error means the backend produced no image.
type ImageSynthesizer interface {
	Synthesize(ctx context.Context, prompt string) (string, error)
}

// PromptCache memoizes enhanced prompts by their raw text.
type PromptCache interface {
	Prompt(ctx context.Context, raw string) (string, bool, error)
	PutPrompt(ctx context.Context, raw, enhanced string) error
}

type imagePipeline struct {
	enhancer    PromptEnhancer
	synthesizer ImageSynthesizer
	cache       PromptCache

	rec    Recorder
	logger *zap.Logger
}

// ImageCaption is the text attached to a generated image. It always quotes the user's own words.
func ImageCaption(text string) string {
	return fmt.Sprintf("Here is the generated image for: \"%s\"", text)
}

// synthesize generates the image for prompt and attaches it to the target message, captioned with
// the original text.
func (p imagePipeline) synthesize(ctx context.Context, transcript *Transcript, targetID, text, prompt string) error {
	if p.synthesizer == nil {
		return newSynthesisError(&models.APIError{Message: "image generation is not configured"})
	}

	image, err := p.synthesizer.Synthesize(ctx, prompt)
	if err != nil {
		return newSynthesisError(err)
	}
	if image == "" {
		return &SynthesisError{Reason: ErrNoImage.Error(), Err: ErrNoImage}
	}

	transcript.MutateLast(targetID, func(m *models.Message) {
		m.Text = ImageCaption(text)
		m.Image = image
		m.IsGeneratingImage = false
	})
	return nil
}

// enhance returns the prompt used for synthesis. Any failure falls back to the raw text.
func (p imagePipeline) enhance(ctx context.Context, text string) string {
	if p.enhancer == nil {
		return text
	}

	if p.cache != nil {
		cached, ok, err := p.cache.Prompt(ctx, text)
		if err != nil {
			p.logger.Debug("Prompt cache lookup failed", zap.Error(err))
		} else if ok {
			return cached
		}
	}

	enhanced, err := p.enhancer.Enhance(ctx, text)
	if err != nil {
		p.rec.EnhancementSkipped()
		p.logger.Debug("Background enhancer skipped", zap.Error(err))
		return text
	}
	enhanced = strings.TrimSpace(enhanced)
	if enhanced == "" {
		p.rec.EnhancementSkipped()
		p.logger.Debug("Background enhancer returned nothing")
		return text
	}

	if p.cache != nil {
		if err := p.cache.PutPrompt(ctx, text, enhanced); err != nil {
			p.logger.Debug("Prompt cache store failed", zap.Error(err))
		}
	}
	return enhanced
}
