package layoutgen

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// Completer sends one prompt, optionally with the screenshot attached, to a
// language model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string, imageBase64 string) (string, error)
}

// OpenAIConfig configures OpenAICompleter
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// OpenAICompleter talks to any OpenAI-compatible chat endpoint
type OpenAICompleter struct {
	llm         llms.Model
	maxTokens   int
	temperature *float64
}

// NewOpenAICompleter creates the langchaingo client
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	return &OpenAICompleter{
		llm:         llm,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete implements Completer
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, imageBase64 string) (string, error) {
	parts := make([]llms.ContentPart, 0, 2)
	if imageBase64 != "" {
		parts = append(parts, llms.ImageURLPart("data:image/jpeg;base64,"+imageBase64))
	}
	parts = append(parts, llms.TextPart(prompt))

	var callOpts []llms.CallOption
	if c.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.maxTokens))
	}
	if c.temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*c.temperature))
	}

	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Role:  schema.ChatMessageTypeHuman,
			Parts: parts,
		},
	}, callOpts...)
	if err != nil {
		return "", fmt.Errorf("error getting response from LLM: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Content, nil
}
