package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider     string  `yaml:"provider"`
		BaseURL      string  `yaml:"base_url"`
		Model        string  `yaml:"model"`
		APIKeyEnv    string  `yaml:"api_key_env"`
		MaxTokens    int     `yaml:"max_tokens"`
		Temperature  float64 `yaml:"temperature"`
		TopP         float64 `yaml:"top_p"`
		TimeoutSecs  int     `yaml:"timeout_secs"`
		RateLimit    float64 `yaml:"rate_limit"`
		SystemPrompt string  `yaml:"system_prompt"`
	} `yaml:"llm"`

	Embedder struct {
		Provider  string `yaml:"provider"`
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		APIKeyEnv string `yaml:"api_key_env"`
		Dimension int    `yaml:"dimension"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"embedder"`

	Processor struct {
		Strategy     string   `yaml:"strategy"`
		ChunkSize    int      `yaml:"chunk_size"`
		ChunkOverlap int      `yaml:"chunk_overlap"`
		Separators   []string `yaml:"separators"`
	} `yaml:"processor"`

	Retrieval struct {
		DefaultK        int      `yaml:"default_k"`
		SummaryK        int      `yaml:"summary_k"`
		SummaryKeywords []string `yaml:"summary_keywords"`
		BatchSize       int      `yaml:"batch_size"`
	} `yaml:"retrieval"`

	Loader struct {
		MaxBytes    int64 `yaml:"max_bytes"`
		TimeoutSecs int   `yaml:"timeout_secs"`
	} `yaml:"loader"`

	Server struct {
		Addr           string `yaml:"addr"`
		MaxSessions    int    `yaml:"max_sessions"`
		SessionTTLMins int    `yaml:"session_ttl_mins"`
	} `yaml:"server"`

	UI struct {
		ShowContext bool   `yaml:"show_context"`
		Theme       string `yaml:"theme"`
	} `yaml:"ui"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docqa/config.yaml"),
			"/etc/docqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Fields absent from the file keep their defaults, so an explicit
	// chunk_overlap: 0 survives.
	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(config)

	// Apply defaults for unset values
	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func newConfig() *Config {
	config := &Config{}
	config.Processor.ChunkOverlap = 200
	config.UI.ShowContext = true
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "groq"
	}
	if config.LLM.APIKeyEnv == "" {
		config.LLM.APIKeyEnv = defaultKeyEnv(config.LLM.Provider)
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 300
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.5
	}
	if config.LLM.TopP == 0 {
		config.LLM.TopP = 0.9
	}
	if config.LLM.TimeoutSecs == 0 {
		config.LLM.TimeoutSecs = 60
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.APIKeyEnv == "" {
		config.Embedder.APIKeyEnv = "OPENAI_API_KEY"
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}

	if config.Processor.Strategy == "" {
		config.Processor.Strategy = "recursive"
	}
	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1200
	}

	if config.Retrieval.DefaultK == 0 {
		config.Retrieval.DefaultK = 5
	}
	if config.Retrieval.SummaryK == 0 {
		config.Retrieval.SummaryK = 8
	}
	if len(config.Retrieval.SummaryKeywords) == 0 {
		config.Retrieval.SummaryKeywords = []string{"summarize", "summary", "overview"}
	}
	if config.Retrieval.BatchSize == 0 {
		config.Retrieval.BatchSize = 32
	}

	if config.Loader.MaxBytes == 0 {
		config.Loader.MaxBytes = 20 << 20
	}
	if config.Loader.TimeoutSecs == 0 {
		config.Loader.TimeoutSecs = 30
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.MaxSessions == 0 {
		config.Server.MaxSessions = 100
	}
	if config.Server.SessionTTLMins == 0 {
		config.Server.SessionTTLMins = 30
	}

	if config.UI.Theme == "" {
		config.UI.Theme = "default"
	}
}

func defaultKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return "GROQ_API_KEY"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("DOCQA_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if provider := os.Getenv("DOCQA_EMBEDDER_PROVIDER"); provider != "" {
		config.Embedder.Provider = provider
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedder.Provider == "ollama" || config.Embedder.Provider == "" {
			config.Embedder.BaseURL = baseURL
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
}

// OverrideLLM applies command line choices. Switching provider drops the
// model and base URL meant for the old one, and moves the API key variable
// along unless it was set explicitly.
func (c *Config) OverrideLLM(provider, model string) {
	if provider != "" && provider != c.LLM.Provider {
		if c.LLM.APIKeyEnv == defaultKeyEnv(c.LLM.Provider) {
			c.LLM.APIKeyEnv = defaultKeyEnv(provider)
		}
		c.LLM.Provider = provider
		c.LLM.Model = ""
		c.LLM.BaseURL = ""
	}
	if model != "" {
		c.LLM.Model = model
	}
}

// LLMAPIKey reads the generation credential from the environment.
func (c *Config) LLMAPIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// EmbedderAPIKey reads the embedding credential from the environment.
func (c *Config) EmbedderAPIKey() string {
	return os.Getenv(c.Embedder.APIKeyEnv)
}
