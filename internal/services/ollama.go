package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// Ollama provides text streaming and prompt enhancement backed by an Ollama server. Ollama has no
// image generation, so it can't be used as an image synthesizer.
type Ollama struct {
	host           string
	systemPrompt   string
	enhancerPrompt string
	enhanceModel   string

	params Parameters

	client *api.Client

	logger *zap.Logger
}

// OllamaOptions configures an Ollama backend.
type OllamaOptions struct {
	Host           string
	SystemPrompt   string
	EnhancerPrompt string
	EnhanceModel   string

	Params Parameters
}

// NewOllama creates a new Ollama instance. The host should be a valid URL pointing to an Ollama server.
func NewOllama(opts OllamaOptions, logger *zap.Logger) (Ollama, error) {
	u, err := url.Parse(opts.Host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", opts.Host, err)
	}

	return Ollama{
		host:           opts.Host,
		systemPrompt:   opts.SystemPrompt,
		enhancerPrompt: opts.EnhancerPrompt,
		enhanceModel:   opts.EnhanceModel,
		params:         opts.Params,
		client:         api.NewClient(u, &http.Client{}),
		logger:         logger.With(zap.String("module", "ollama")),
	}, nil
}

// StreamResponse streams the answer of the Ollama model to text, with history as the preceding
// conversation.
func (o Ollama) StreamResponse(
	ctx context.Context,
	model string,
	text string,
	history []models.HistoryEntry,
) iter.Seq2[models.Chunk, error] {
	return func(yield func(models.Chunk, error) bool) {
		msgs := make([]api.Message, 0, len(history)+2)
		if o.systemPrompt != "" {
			msgs = append(msgs, api.Message{Role: "system", Content: o.systemPrompt})
		}
		for _, h := range history {
			if strings.TrimSpace(h.Text) == "" {
				continue
			}
			role := "user"
			if h.Role == models.RoleModel {
				role = "assistant"
			}
			msgs = append(msgs, api.Message{Role: role, Content: h.Text})
		}
		msgs = append(msgs, api.Message{Role: "user", Content: text})

		t := true
		req := api.ChatRequest{
			Model:    model,
			Messages: msgs,
			Stream:   &t,
			Options:  o.options(),
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(models.Chunk{Text: res.Message.Content}, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Chunk{}, fmt.Errorf("error sending request: %w", ollamaError(err)))
		}
	}
}

// Enhance rewrites a short image request into a detailed image prompt using the Ollama generate API.
func (o Ollama) Enhance(ctx context.Context, text string) (string, error) {
	f := false
	req := api.GenerateRequest{
		Model:   o.enhanceModel,
		Prompt:  text,
		System:  o.enhancerPrompt,
		Stream:  &f,
		Options: o.options(),
	}

	var sb strings.Builder
	if err := o.client.Generate(ctx, &req, func(res api.GenerateResponse) error {
		sb.WriteString(res.Response)
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", ollamaError(err))
	}

	return sb.String(), nil
}

func (o Ollama) options() map[string]any {
	opts := map[string]any{}
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		opts["num_predict"] = *o.params.MaxTokens
	}
	if o.params.Stop != nil {
		opts["stop"] = o.params.Stop
	}
	if o.params.Seed != nil {
		opts["seed"] = *o.params.Seed
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func ollamaError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return &models.APIError{Status: statusErr.StatusCode, Message: msg, Err: err}
	}
	return err
}
