package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/MegaGrindStone/genzai-web-ui/internal/chat"
	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"github.com/MegaGrindStone/genzai-web-ui/internal/services"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = "8080"
	defaultImageModel   = "gemini-2.5-flash-image"
	defaultEnhanceModel = "gemini-2.5-flash"
	defaultCacheTTL     = 7 * 24 * time.Hour

	defaultSystemPrompt = "You are GenzAI, a friendly and knowledgeable assistant. Answer clearly, " +
		"use Markdown when it helps readability, and cite your sources when you searched the web."
	defaultEnhancerPrompt = "Rewrite the user's request into a single detailed prompt for an image " +
		"generation model. Describe the subject, composition, lighting, style and mood. Answer with the " +
		"prompt only."
)

type prompts struct {
	system   string
	enhancer string
}

type llmConfig interface {
	backend(ctx context.Context, p prompts, logger *zap.Logger) (chat.TextGenerator, chat.PromptEnhancer, error)
}

type imageConfig interface {
	synthesizer(ctx context.Context, logger *zap.Logger) (chat.ImageSynthesizer, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	// EnhanceModel is the model rewriting image prompts. Empty disables prompt enhancement.
	EnhanceModel string              `yaml:"enhanceModel"`
	Params       services.Parameters `yaml:"params"`
}

// BaseImageConfig contains the common fields for all image configurations.
type BaseImageConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port           string        `yaml:"port"`
	Debug          bool          `yaml:"debug"`
	LogLevel       string        `yaml:"logLevel"`
	LogJSON        bool          `yaml:"logJSON"`
	SystemPrompt   string        `yaml:"systemPrompt"`
	EnhancerPrompt string        `yaml:"enhancerPrompt"`
	CachePath      string        `yaml:"cachePath"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	Models         models.Models `yaml:"models"`
	LLM            llmConfig     `yaml:"llm"`
	Image          imageConfig   `yaml:"image"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
	Search        *bool  `yaml:"search"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type geminiImageConfig struct {
	BaseImageConfig `yaml:",inline"`
	APIKey          string `yaml:"apiKey"`
	BaseURL         string `yaml:"baseURL"`
}

type openAIImageConfig struct {
	BaseImageConfig `yaml:",inline"`
	APIKey          string `yaml:"apiKey"`
	BaseURL         string `yaml:"baseURL"`
}

type httpImageConfig struct {
	BaseImageConfig `yaml:",inline"`
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string         `yaml:"port"`
		Debug          bool           `yaml:"debug"`
		LogLevel       string         `yaml:"logLevel"`
		LogJSON        bool           `yaml:"logJSON"`
		SystemPrompt   string         `yaml:"systemPrompt"`
		EnhancerPrompt string         `yaml:"enhancerPrompt"`
		CachePath      string         `yaml:"cachePath"`
		CacheTTL       *time.Duration `yaml:"cacheTTL"`
		Models         models.Models  `yaml:"models"`
		LLM            map[string]any `yaml:"llm"`
		Image          map[string]any `yaml:"image"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	c.Debug = rawConfig.Debug
	c.LogLevel = rawConfig.LogLevel
	if c.Debug {
		c.LogLevel = "debug"
	}
	c.LogJSON = rawConfig.LogJSON
	c.SystemPrompt = rawConfig.SystemPrompt
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	c.EnhancerPrompt = rawConfig.EnhancerPrompt
	if c.EnhancerPrompt == "" {
		c.EnhancerPrompt = defaultEnhancerPrompt
	}
	c.CachePath = rawConfig.CachePath
	c.CacheTTL = defaultCacheTTL
	if rawConfig.CacheTTL != nil {
		c.CacheTTL = *rawConfig.CacheTTL
	}

	c.Models = rawConfig.Models
	if len(c.Models) == 0 {
		c.Models = models.DefaultModels()
	}
	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("invalid models: %w", err)
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	var llm llmConfig
	switch llmProvider {
	case "gemini":
		llm = &geminiConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}
	if err := decodeSection(rawConfig.LLM, llm); err != nil {
		return fmt.Errorf("invalid llm config: %w", err)
	}
	c.LLM = llm

	if rawConfig.Image == nil {
		// Gemini serves both pipelines with one key, so the image section is optional for it.
		if g, ok := llm.(*geminiConfig); ok {
			c.Image = &geminiImageConfig{
				BaseImageConfig: BaseImageConfig{Provider: "gemini", Model: defaultImageModel},
				APIKey:          g.APIKey,
				BaseURL:         g.BaseURL,
			}
		}
		return nil
	}

	imageProvider, ok := rawConfig.Image["provider"].(string)
	if !ok {
		return fmt.Errorf("image provider is required")
	}

	var image imageConfig
	switch imageProvider {
	case "gemini":
		image = &geminiImageConfig{}
	case "openai":
		image = &openAIImageConfig{}
	case "http":
		image = &httpImageConfig{}
	default:
		return fmt.Errorf("unknown image provider: %s", imageProvider)
	}
	if err := decodeSection(rawConfig.Image, image); err != nil {
		return fmt.Errorf("invalid image config: %w", err)
	}
	c.Image = image

	return nil
}

func decodeSection(raw map[string]any, target any) error {
	rawYAML, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(rawYAML, target)
}

func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

func (g geminiConfig) backend(
	ctx context.Context,
	p prompts,
	logger *zap.Logger,
) (chat.TextGenerator, chat.PromptEnhancer, error) {
	enhanceModel := g.EnhanceModel
	if enhanceModel == "" {
		enhanceModel = defaultEnhanceModel
	}
	search := true
	if g.Search != nil {
		search = *g.Search
	}

	gm, err := services.NewGemini(ctx, services.GeminiOptions{
		APIKey:         envOr(g.APIKey, "GEMINI_API_KEY"),
		BaseURL:        g.BaseURL,
		SystemPrompt:   p.system,
		EnhancerPrompt: p.enhancer,
		EnhanceModel:   enhanceModel,
		Search:         search,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return gm, gm, nil
}

func (o openAIConfig) backend(
	_ context.Context,
	p prompts,
	logger *zap.Logger,
) (chat.TextGenerator, chat.PromptEnhancer, error) {
	apiKey := envOr(o.APIKey, "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, nil, fmt.Errorf("openai api key is required")
	}

	oa := services.NewOpenAI(services.OpenAIOptions{
		APIKey:         apiKey,
		BaseURL:        o.BaseURL,
		SystemPrompt:   p.system,
		EnhancerPrompt: p.enhancer,
		EnhanceModel:   o.EnhanceModel,
		Params:         o.Params,
	}, logger)
	if o.EnhanceModel == "" {
		return oa, nil, nil
	}
	return oa, oa, nil
}

func (o ollamaConfig) backend(
	_ context.Context,
	p prompts,
	logger *zap.Logger,
) (chat.TextGenerator, chat.PromptEnhancer, error) {
	host := envOr(o.Host, "OLLAMA_HOST")
	if host == "" {
		return nil, nil, fmt.Errorf("ollama host is required")
	}

	ol, err := services.NewOllama(services.OllamaOptions{
		Host:           host,
		SystemPrompt:   p.system,
		EnhancerPrompt: p.enhancer,
		EnhanceModel:   o.EnhanceModel,
		Params:         o.Params,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	if o.EnhanceModel == "" {
		return ol, nil, nil
	}
	return ol, ol, nil
}

func (g geminiImageConfig) synthesizer(ctx context.Context, logger *zap.Logger) (chat.ImageSynthesizer, error) {
	model := g.Model
	if model == "" {
		model = defaultImageModel
	}

	return services.NewGemini(ctx, services.GeminiOptions{
		APIKey:     envOr(g.APIKey, "GEMINI_API_KEY"),
		BaseURL:    g.BaseURL,
		ImageModel: model,
	}, logger)
}

func (o openAIImageConfig) synthesizer(_ context.Context, logger *zap.Logger) (chat.ImageSynthesizer, error) {
	apiKey := envOr(o.APIKey, "OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if o.Model == "" {
		return nil, fmt.Errorf("image model is required")
	}

	return services.NewOpenAI(services.OpenAIOptions{
		APIKey:     apiKey,
		BaseURL:    o.BaseURL,
		ImageModel: o.Model,
	}, logger), nil
}

func (h httpImageConfig) synthesizer(_ context.Context, logger *zap.Logger) (chat.ImageSynthesizer, error) {
	if h.URL == "" {
		return nil, fmt.Errorf("image url is required")
	}
	timeout := h.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return services.NewImageAPI(h.URL, timeout, logger), nil
}
