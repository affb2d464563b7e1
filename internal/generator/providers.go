package generator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"google.golang.org/genai"
)

// Поддерживаемые провайдеры.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// ProviderConfig — параметры подключения к языковой модели.
type ProviderConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
}

// NewChatModel создаёт eino ChatModel выбранного провайдера.
func NewChatModel(ctx context.Context, cfg ProviderConfig) (ChatModel, error) {
	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens

	switch cfg.Provider {
	case ProviderOpenAI:
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("создание OpenAI модели: %w", err)
		}
		return m, nil

	case ProviderClaude:
		claudeCfg := &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		}
		if cfg.BaseURL != "" {
			baseURL := cfg.BaseURL
			claudeCfg.BaseURL = &baseURL
		}
		m, err := claude.NewChatModel(ctx, claudeCfg)
		if err != nil {
			return nil, fmt.Errorf("создание Claude модели: %w", err)
		}
		return m, nil

	case ProviderGemini:
		clientCfg := &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if cfg.BaseURL != "" {
			clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("создание клиента Gemini: %w", err)
		}
		m, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       cfg.Model,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("создание Gemini модели: %w", err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("неподдерживаемый провайдер %q", cfg.Provider)
	}
}
