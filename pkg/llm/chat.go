package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/tubechat/internal/models"
)

// ErrGenerationUnavailable marks an upstream LLM failure or timeout after
// the bounded retry has been spent. Surfaced, never swallowed.
var ErrGenerationUnavailable = errors.New("text generation unavailable")

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider     string
	Model        string
	Temperature  float64
	MaxTokens    int
	BaseURL      string
	Timeout      time.Duration
	RetryBackoff time.Duration
}

// ChatEngine synthesizes grounded answers over retrieved transcript chunks.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = 2 * time.Second
	}

	var model llms.Model
	var err error

	switch config.Provider {
	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
	case "openai":
		model, err = openai.New(openai.WithModel(config.Model))
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// Synthesize builds the shaped prompt for the candidate set and asks the
// model for an answer containing inline [#N] references. One retry with
// backoff on upstream failure, then ErrGenerationUnavailable.
func (ce *ChatEngine) Synthesize(ctx context.Context, question string, candidates []models.Candidate, mode string) (string, error) {
	shape := SelectShape(candidates)
	system, prompt := BuildPrompt(question, candidates, shape, mode)

	answer, err := ce.generate(ctx, system, prompt)
	if err == nil {
		return answer, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	select {
	case <-time.After(ce.config.RetryBackoff):
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, ctx.Err())
	}

	answer, retryErr := ce.generate(ctx, system, prompt)
	if retryErr != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, retryErr)
	}
	return answer, nil
}

// generate runs one model call with the engine's timeout.
func (ce *ChatEngine) generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: empty response")
	}

	return response.Choices[0].Content, nil
}
