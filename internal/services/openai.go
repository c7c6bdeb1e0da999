package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAI provides text streaming, prompt enhancement and image synthesis backed by the OpenAI API, or
// any API compatible with it.
type OpenAI struct {
	systemPrompt   string
	enhancerPrompt string
	enhanceModel   string
	imageModel     string

	params Parameters

	client *goopenai.Client

	logger *zap.Logger
}

// OpenAIOptions configures an OpenAI backend.
type OpenAIOptions struct {
	APIKey string
	// BaseURL overrides the API endpoint, for OpenAI compatible servers.
	BaseURL string

	SystemPrompt   string
	EnhancerPrompt string
	EnhanceModel   string
	ImageModel     string

	Params Parameters
}

// NewOpenAI creates a new OpenAI instance.
func NewOpenAI(opts OpenAIOptions, logger *zap.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return OpenAI{
		systemPrompt:   opts.SystemPrompt,
		enhancerPrompt: opts.EnhancerPrompt,
		enhanceModel:   opts.EnhanceModel,
		imageModel:     opts.ImageModel,
		params:         opts.Params,
		client:         goopenai.NewClientWithConfig(cfg),
		logger:         logger.With(zap.String("module", "openai")),
	}
}

func openAIMessages(systemPrompt string, history []models.HistoryEntry, text string) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, h := range history {
		if strings.TrimSpace(h.Text) == "" {
			continue
		}
		role := goopenai.ChatMessageRoleUser
		if h.Role == models.RoleModel {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: h.Text,
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: text,
	})
}

// StreamResponse is a wrapper around the OpenAI chat completion stream API.
func (o OpenAI) StreamResponse(
	ctx context.Context,
	model string,
	text string,
	history []models.HistoryEntry,
) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		req := o.chatRequest(model, openAIMessages(o.systemPrompt, history, text), true)
		o.logger.Debug("Request", zap.String("model", model), zap.Int("messages", len(req.Messages)))

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Chunk{}, fmt.Errorf("error sending request: %w", openAIError(err)))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Chunk{}, openAIError(err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			if content := response.Choices[0].Delta.Content; content != "" {
				if !yield(models.Chunk{Text: content}, nil) {
					return
				}
			}
		}
	}
}

// Enhance is a wrapper around the OpenAI chat completion API.
func (o OpenAI) Enhance(ctx context.Context, text string) (string, error) {
	req := o.chatRequest(o.enhanceModel, openAIMessages(o.enhancerPrompt, nil, text), false)

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", openAIError(err))
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}

	return resp.Choices[0].Message.Content, nil
}

// Synthesize is a wrapper around the OpenAI image generation API. The image is requested as base64
// and returned as a PNG data URI.
func (o OpenAI) Synthesize(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         prompt,
		Model:          o.imageModel,
		N:              1,
		ResponseFormat: goopenai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", openAIError(err)
	}

	for _, d := range resp.Data {
		if d.B64JSON != "" {
			return "data:image/png;base64," + d.B64JSON, nil
		}
	}
	return "", nil
}

func (o OpenAI) chatRequest(
	model string,
	messages []goopenai.ChatCompletionMessage,
	stream bool,
) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}

	return req
}

func openAIError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &models.APIError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &models.APIError{Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return err
}
