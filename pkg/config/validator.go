package config

import (
	"fmt"
	"net/url"
	"slices"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	llmProviders       = []string{"groq", "openai", "ollama", "gemini"}
	embedderProviders  = []string{"ollama", "openai", "hashing"}
	chunkingStrategies = []string{"recursive", "langchain"}
	themes             = []string{"default", "dark", "light"}
)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if !slices.Contains(llmProviders, c.LLM.Provider) {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q, expected one of %v", c.LLM.Provider, llmProviders),
		})
	}

	if c.LLM.BaseURL != "" && !validURL(c.LLM.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.TopP <= 0 || c.LLM.TopP > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.top_p",
			Message: "top_p must be in (0, 1]",
		})
	}

	if c.LLM.TimeoutSecs < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.timeout_secs",
			Message: "timeout_secs must be positive",
		})
	}

	if c.LLM.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.rate_limit",
			Message: "rate_limit cannot be negative",
		})
	}

	// Validate Embedder config
	if !slices.Contains(embedderProviders, c.Embedder.Provider) {
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown provider %q, expected one of %v", c.Embedder.Provider, embedderProviders),
		})
	}

	if c.Embedder.BaseURL != "" && !validURL(c.Embedder.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "invalid base URL",
		})
	}

	if c.Embedder.Dimension < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimension",
			Message: "dimension cannot be negative",
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Processor config
	if !slices.Contains(chunkingStrategies, c.Processor.Strategy) {
		errors = append(errors, ValidationError{
			Field:   "processor.strategy",
			Message: fmt.Sprintf("unknown strategy %q, expected one of %v", c.Processor.Strategy, chunkingStrategies),
		})
	}

	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Retrieval config
	if c.Retrieval.DefaultK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.default_k",
			Message: "default_k must be positive",
		})
	}

	if c.Retrieval.SummaryK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.summary_k",
			Message: "summary_k must be positive",
		})
	}

	if c.Retrieval.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Loader config
	if c.Loader.MaxBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "loader.max_bytes",
			Message: "max_bytes must be positive",
		})
	}

	if !slices.Contains(themes, c.UI.Theme) {
		errors = append(errors, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("unknown theme %q", c.UI.Theme),
		})
	}

	return errors
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
