package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Gemini provides text streaming, prompt enhancement and image synthesis backed by Google's Gemini
// API. Text answers are grounded with Google Search when search is enabled.
type Gemini struct {
	client *genai.Client

	systemPrompt   string
	enhancerPrompt string
	enhanceModel   string
	imageModel     string
	search         bool

	logger *zap.Logger
}

// GeminiOptions configures a Gemini backend.
type GeminiOptions struct {
	APIKey  string
	BaseURL string

	SystemPrompt   string
	EnhancerPrompt string
	// EnhanceModel is the text model rewriting image prompts.
	EnhanceModel string
	// ImageModel is either a Gemini image model answering with inline image parts, or an Imagen
	// model served by the image generation endpoint.
	ImageModel string
	// Search enables Google Search grounding for text answers.
	Search bool
}

// NewGemini creates a new Gemini instance.
func NewGemini(ctx context.Context, opts GeminiOptions, logger *zap.Logger) (Gemini, error) {
	if opts.APIKey == "" {
		return Gemini{}, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions.BaseURL = opts.BaseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return Gemini{}, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return Gemini{
		client:         client,
		systemPrompt:   opts.SystemPrompt,
		enhancerPrompt: opts.EnhancerPrompt,
		enhanceModel:   opts.EnhanceModel,
		imageModel:     opts.ImageModel,
		search:         opts.Search,
		logger:         logger.With(zap.String("module", "gemini")),
	}, nil
}

// StreamResponse streams the answer of model to text, with history as the preceding conversation.
func (g Gemini) StreamResponse(
	ctx context.Context,
	model string,
	text string,
	history []models.HistoryEntry,
) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		cfg := &genai.GenerateContentConfig{}
		if g.systemPrompt != "" {
			cfg.SystemInstruction = genai.NewContentFromText(g.systemPrompt, genai.RoleUser)
		}
		if g.search {
			cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		}

		contents := geminiContents(history, text)
		g.logger.Debug("Request",
			zap.String("model", model),
			zap.Int("contents", len(contents)),
			zap.Bool("search", g.search))

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Chunk{}, geminiError(err))
				return
			}
			if !yield(geminiChunk(resp), nil) {
				return
			}
		}
	}
}

// Enhance rewrites a short image request into a detailed image prompt.
func (g Gemini) Enhance(ctx context.Context, text string) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if g.enhancerPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(g.enhancerPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.enhanceModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", geminiError(err))
	}

	enhanced := geminiChunk(resp).Text
	if enhanced == "" {
		return "", errors.New("no enhanced prompt returned")
	}
	return enhanced, nil
}

// Synthesize generates one image for prompt and returns it as a data URI. It returns an empty string
// when the model answered without an image.
func (g Gemini) Synthesize(ctx context.Context, prompt string) (string, error) {
	if strings.HasPrefix(g.imageModel, "imagen") {
		return g.synthesizeImagen(ctx, prompt)
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.imageModel,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", geminiError(err)
	}
	return geminiInlineImage(resp), nil
}

func (g Gemini) synthesizeImagen(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.imageModel, prompt, &genai.GenerateImagesConfig{})
	if err != nil {
		return "", geminiError(err)
	}
	for _, img := range resp.GeneratedImages {
		if img == nil || img.Image == nil || len(img.Image.ImageBytes) == 0 {
			continue
		}
		mime := img.Image.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return dataURI(mime, img.Image.ImageBytes), nil
	}
	return "", nil
}

func geminiContents(history []models.HistoryEntry, text string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, h := range history {
		// Gemini rejects empty parts, which failed or aborted answers leave behind.
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if h.Role == models.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(h.Text, role))
	}
	return append(contents, genai.NewContentFromText(text, genai.RoleUser))
}

func geminiChunk(resp *genai.GenerateContentResponse) models.Chunk {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return models.Chunk{}
	}
	cand := resp.Candidates[0]

	var sb strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			sb.WriteString(p.Text)
		}
	}

	return models.Chunk{
		Text:              sb.String(),
		GroundingMetadata: geminiGrounding(cand.GroundingMetadata),
	}
}

func geminiGrounding(gm *genai.GroundingMetadata) *models.GroundingMetadata {
	if gm == nil {
		return nil
	}
	meta := &models.GroundingMetadata{
		SearchQueries: gm.WebSearchQueries,
	}
	for _, c := range gm.GroundingChunks {
		if c == nil || c.Web == nil {
			continue
		}
		meta.Sources = append(meta.Sources, models.GroundingSource{
			Title: c.Web.Title,
			URI:   c.Web.URI,
		})
	}
	if meta.IsEmpty() {
		return nil
	}
	return meta
}

func geminiInlineImage(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return dataURI(p.InlineData.MIMEType, p.InlineData.Data)
		}
	}
	return ""
}

// geminiError converts Google API errors into models.APIError, keeping their HTTP status.
func geminiError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &models.APIError{Status: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &models.APIError{Status: apiErrPtr.Code, Message: apiErrPtr.Message, Err: err}
	}
	if ae, ok := apierror.FromError(err); ok {
		msg := ae.Reason()
		if msg == "" {
			msg = ae.Error()
		}
		return &models.APIError{Status: ae.HTTPCode(), Message: msg, Err: err}
	}
	return err
}

func dataURI(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}
