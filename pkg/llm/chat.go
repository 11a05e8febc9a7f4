package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/docqa/internal/types"
	"golang.org/x/time/rate"
)

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "llama-3.3-70b-versatile"
)

const DefaultSystemPrompt = "You are a helpful assistant that answers questions based on provided context. " +
	"For speeches, focus on main themes, key messages, and important points. " +
	"For research papers, focus on findings, methods, and conclusions. " +
	"Adapt your response style to match the document type."

const promptTemplate = `Based on the following context, please answer the question.
Only use information from the context to formulate your answer.
If the context doesn't contain the answer, say "I don't have enough information to answer this question."

Context:
%s

Question: %s

Answer:`

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider       string
	Model          string
	BaseURL        string
	APIKey         string
	Temperature    float64
	TopP           float64
	MaxTokens      int
	Timeout        time.Duration
	RateLimit      float64 // requests per second, 0 disables
	SystemTemplate string
}

// ChatEngine is an engine that uses an LLM to answer questions from
// retrieved context.
type ChatEngine struct {
	config  ChatConfig
	llm     llms.Model
	limiter *rate.Limiter
}

// NewWithConfig creates a new ChatEngine with the given configuration.
// Hosted providers fail with ErrMissingCredential when no API key is set.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}

	var llm llms.Model
	switch config.Provider {
	case ProviderGroq, ProviderOpenAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: %s provider needs an api key", types.ErrMissingCredential, config.Provider)
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err = openai.New(opts...)
	case ProviderOllama:
		llm, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case ProviderGemini:
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini provider needs an api key", types.ErrMissingCredential)
		}
		llm, err = newGeminiModel(context.Background(), config.APIKey, config.Model)
	default:
		return nil, fmt.Errorf("%w: provider %q needs a model, use NewWithModel", types.ErrInvalidConfig, config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return newEngine(config, llm), nil
}

// NewWithModel builds an engine around an existing model. Provider and
// credentials in config are ignored.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = "custom"
	}
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}
	return newEngine(config, model), nil
}

func newEngine(config ChatConfig, model llms.Model) *ChatEngine {
	ce := &ChatEngine{config: config, llm: model}
	if config.RateLimit > 0 {
		ce.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return ce
}

func applyChatDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = ProviderGroq
	}

	switch config.Provider {
	case ProviderGroq:
		if config.BaseURL == "" {
			config.BaseURL = DefaultGroqBaseURL
		}
		if config.Model == "" {
			config.Model = DefaultGroqModel
		}
	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "gpt-4o-mini"
		}
	case ProviderOllama:
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		if config.Model == "" {
			config.Model = "llama3.2"
		}
	case ProviderGemini:
		if config.Model == "" {
			config.Model = "gemini-2.5-flash"
		}
	case "custom":
	default:
		return config, fmt.Errorf("%w: unknown llm provider %q", types.ErrInvalidConfig, config.Provider)
	}

	if config.Temperature == 0 {
		config.Temperature = 0.5
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("%w: temperature must be between 0 and 2", types.ErrInvalidConfig)
	}
	if config.TopP == 0 {
		config.TopP = 0.9
	}
	if config.TopP < 0 || config.TopP > 1 {
		return config, fmt.Errorf("%w: top_p must be between 0 and 1", types.ErrInvalidConfig)
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("%w: max tokens cannot be negative", types.ErrInvalidConfig)
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 300
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultSystemPrompt
	}

	return config, nil
}

func (ce *ChatEngine) Config() ChatConfig {
	return ce.config
}

// BuildPrompt renders the user message for a question and its context
// passages, most similar first.
func BuildPrompt(question string, passages []string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(passages, "\n\n"), question)
}

// Generate asks the model to answer question using only the given passages.
func (ce *ChatEngine) Generate(ctx context.Context, question string, passages []string) (string, error) {
	ctx, cancel := contextWithTimeout(ctx, ce.config.Timeout)
	defer cancel()

	if ce.limiter != nil {
		if err := ce.limiter.Wait(ctx); err != nil {
			// Wait fails early, with a plain error, when the next token is
			// due after the deadline.
			if !errors.Is(ctx.Err(), context.Canceled) {
				return "", fmt.Errorf("%w after %s: rate limiter: %v", types.ErrGenerationTimeout, ce.config.Timeout, err)
			}
			return "", ce.wrapError(ctx, fmt.Errorf("rate limiter: %w", err))
		}
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildPrompt(question, passages)),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithModel(ce.config.Model),
		llms.WithTemperature(ce.config.Temperature),
		llms.WithTopP(ce.config.TopP),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", ce.wrapError(ctx, err)
	}

	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", fmt.Errorf("%w: no response from LLM", types.ErrGeneration)
	}

	return response.Choices[0].Content, nil
}

func (ce *ChatEngine) wrapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", types.ErrGenerationTimeout, ce.config.Timeout, err)
	}
	return fmt.Errorf("%w: %v", types.ErrGeneration, err)
}

func contextWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// FailureMessage renders a generation error the way it is shown in place
// of an answer.
func FailureMessage(err error) string {
	return fmt.Sprintf("Error generating answer: %v", err)
}
