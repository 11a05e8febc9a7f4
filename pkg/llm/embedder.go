package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/docqa/internal/types"
)

const (
	EmbedderOllama  = "ollama"
	EmbedderOpenAI  = "openai"
	EmbedderHashing = "hashing"
)

const loadTimeout = 2 * time.Minute

// EmbeddingBackend is the model behind an Embedder. The langchaingo
// embeddings.Embedder interface satisfies it.
type EmbeddingBackend interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int // hashing only
	BatchSize int
}

// Embedder wraps one embedding model for the whole process. The model is
// loaded on first use and never reloaded; a failed load is permanent.
type Embedder struct {
	config EmbedderConfig
	load   func() (EmbeddingBackend, error)

	once    sync.Once
	loaded  atomic.Bool
	backend EmbeddingBackend
	dim     int
	err     error
}

// NewEmbedderWithConfig applies defaults and checks the provider. Nothing
// is contacted until the first Embed call.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = EmbedderOllama
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	e := &Embedder{}

	switch config.Provider {
	case EmbedderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		e.load = func() (EmbeddingBackend, error) {
			client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
			if err != nil {
				return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
			}
			return embeddings.NewEmbedder(client,
				embeddings.WithBatchSize(config.BatchSize),
				embeddings.WithStripNewLines(false),
			)
		}
	case EmbedderOpenAI:
		if config.Model == "" {
			config.Model = string(openai.SmallEmbedding3)
		}
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: openai embedder needs an api key", types.ErrMissingCredential)
		}
		e.load = func() (EmbeddingBackend, error) {
			return newOpenAIEmbeddings(config), nil
		}
	case EmbedderHashing:
		if config.Dimension <= 0 {
			config.Dimension = DefaultHashingDimension
		}
		if config.Model == "" {
			config.Model = "hashing"
		}
		e.load = func() (EmbeddingBackend, error) {
			return NewHashingModel(config.Dimension), nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown embedder provider %q", types.ErrInvalidConfig, config.Provider)
	}

	e.config = config
	return e, nil
}

// NewEmbedderWithBackend wraps an already constructed backend.
func NewEmbedderWithBackend(backend EmbeddingBackend) *Embedder {
	return &Embedder{
		config: EmbedderConfig{Provider: "custom", BatchSize: 32},
		load:   func() (EmbeddingBackend, error) { return backend, nil },
	}
}

func (e *Embedder) Config() EmbedderConfig {
	return e.config
}

// Dimension returns the vector length, or 0 before the model has loaded.
func (e *Embedder) Dimension() int {
	if !e.loaded.Load() {
		return 0
	}
	return e.dim
}

// Load loads the model if it has not been loaded yet and returns the
// load error, if any. Cancelling the first caller's context does not abort
// the load.
func (e *Embedder) Load(ctx context.Context) error {
	e.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		backend, err := e.load()
		if err != nil {
			e.err = fmt.Errorf("%w: %v", types.ErrModelUnavailable, err)
			return
		}

		probe, err := backend.EmbedQuery(ctx, "dimension probe")
		if err != nil {
			e.err = fmt.Errorf("%w: failed to probe %s model: %v", types.ErrModelUnavailable, e.config.Provider, err)
			return
		}
		if len(probe) == 0 {
			e.err = fmt.Errorf("%w: %s model returned an empty vector", types.ErrModelUnavailable, e.config.Provider)
			return
		}

		e.dim = len(probe)
		e.backend = backend
		e.loaded.Store(true)
	})
	return e.err
}

// Embed returns one vector per text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := e.Load(ctx); err != nil {
		return nil, err
	}

	vectors, err := e.backend.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to embed documents: %v", types.ErrModelUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", types.ErrDimensionMismatch, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				types.ErrDimensionMismatch, i, len(v), e.dim)
		}
	}

	return vectors, nil
}

// EmbedOne embeds a single query text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := e.Load(ctx); err != nil {
		return nil, err
	}

	v, err := e.backend.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to embed query: %v", types.ErrModelUnavailable, err)
	}
	if len(v) != e.dim {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, expected %d",
			types.ErrDimensionMismatch, len(v), e.dim)
	}
	return v, nil
}

// openAIEmbeddings calls any OpenAI-compatible /embeddings endpoint.
type openAIEmbeddings struct {
	client    *openai.Client
	model     string
	batchSize int
}

func newOpenAIEmbeddings(config EmbedderConfig) *openAIEmbeddings {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &openAIEmbeddings{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     config.Model,
		batchSize: config.BatchSize,
	}
}

func (o *openAIEmbeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))

		batch, err := o.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (o *openAIEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (o *openAIEmbeddings) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// the API may return rows out of order
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || vectors[d.Index] != nil {
			return nil, fmt.Errorf("invalid embedding index %d", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		vectors[d.Index] = v
	}
	return vectors, nil
}
