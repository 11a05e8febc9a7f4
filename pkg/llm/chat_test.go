package llm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/llm"
)

// fakeModel records what it was asked and replies with a canned answer.
type fakeModel struct {
	mu       sync.Mutex
	messages []llms.MessageContent
	options  llms.CallOptions
	calls    int

	reply string
	err   error
	block bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	f.calls++
	f.messages = messages
	f.options = llms.CallOptions{}
	for _, opt := range options {
		opt(&f.options)
	}
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textOf(t *testing.T, msg llms.MessageContent) string {
	t.Helper()
	require.Len(t, msg.Parts, 1)
	tc, ok := msg.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNewWithConfig_MissingCredential(t *testing.T) {
	for _, provider := range []string{llm.ProviderGroq, llm.ProviderOpenAI, llm.ProviderGemini} {
		t.Run(provider, func(t *testing.T) {
			_, err := llm.NewWithConfig(llm.ChatConfig{Provider: provider})
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrMissingCredential))
			assert.Equal(t, types.KindConfiguration, types.KindOf(err))
		})
	}
}

func TestNewWithConfig(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{APIKey: "gsk_test"})
	require.NoError(t, err)

	config := engine.Config()
	assert.Equal(t, llm.ProviderGroq, config.Provider)
	assert.Equal(t, llm.DefaultGroqBaseURL, config.BaseURL)
	assert.Equal(t, llm.DefaultGroqModel, config.Model)
	assert.Equal(t, 0.5, config.Temperature)
	assert.Equal(t, 0.9, config.TopP)
	assert.Equal(t, 300, config.MaxTokens)
	assert.Equal(t, 60*time.Second, config.Timeout)
	assert.Equal(t, llm.DefaultSystemPrompt, config.SystemTemplate)
}

func TestNewWithConfig_Ollama(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{Provider: llm.ProviderOllama, BaseURL: "http://localhost:1234"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1234", engine.Config().BaseURL)
}

func TestNewWithConfig_InvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		config llm.ChatConfig
	}{
		{"unknown provider", llm.ChatConfig{Provider: "anthropic-direct", APIKey: "k"}},
		{"temperature too high", llm.ChatConfig{APIKey: "k", Temperature: 3}},
		{"top_p too high", llm.ChatConfig{APIKey: "k", TopP: 1.5}},
		{"negative max tokens", llm.ChatConfig{APIKey: "k", MaxTokens: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.NewWithConfig(tt.config)
			assert.True(t, errors.Is(err, types.ErrInvalidConfig))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := llm.BuildPrompt("What is Paris known for?", []string{"first passage", "second passage"})

	expected := `Based on the following context, please answer the question.
Only use information from the context to formulate your answer.
If the context doesn't contain the answer, say "I don't have enough information to answer this question."

Context:
first passage

second passage

Question: What is Paris known for?

Answer:`
	assert.Equal(t, expected, prompt)
}

func TestGenerate(t *testing.T) {
	model := &fakeModel{reply: "It is known for the Eiffel Tower."}
	engine, err := llm.NewWithModel(llm.ChatConfig{Model: "test-model"}, model)
	require.NoError(t, err)

	answer, err := engine.Generate(context.Background(), "What is Paris known for?",
		[]string{"Paris is the capital of France. It is known for the Eiffel Tower."})
	require.NoError(t, err)
	assert.Equal(t, "It is known for the Eiffel Tower.", answer)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llm.DefaultSystemPrompt, textOf(t, model.messages[0]))
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	user := textOf(t, model.messages[1])
	assert.Contains(t, user, "Context:\nParis is the capital of France.")
	assert.True(t, strings.HasSuffix(user, "Question: What is Paris known for?\n\nAnswer:"))

	assert.Equal(t, "test-model", model.options.Model)
	assert.Equal(t, 0.5, model.options.Temperature)
	assert.Equal(t, 0.9, model.options.TopP)
	assert.Equal(t, 300, model.options.MaxTokens)
}

func TestGenerate_SystemPromptFromConfig(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	engine, err := llm.NewWithModel(llm.ChatConfig{SystemTemplate: "Answer tersely."}, model)
	require.NoError(t, err)

	_, err = engine.Generate(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "Answer tersely.", textOf(t, model.messages[0]))
}

func TestGenerate_Errors(t *testing.T) {
	model := &fakeModel{err: errors.New("503 service unavailable")}
	engine, err := llm.NewWithModel(llm.ChatConfig{}, model)
	require.NoError(t, err)

	_, err = engine.Generate(context.Background(), "q", []string{"c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrGeneration))
	assert.Equal(t, types.KindGeneration, types.KindOf(err))

	msg := llm.FailureMessage(err)
	assert.True(t, strings.HasPrefix(msg, "Error generating answer: "))
	assert.Contains(t, msg, "503 service unavailable")
}

func TestGenerate_EmptyResponse(t *testing.T) {
	engine, err := llm.NewWithModel(llm.ChatConfig{}, emptyModel{})
	require.NoError(t, err)

	_, err = engine.Generate(context.Background(), "q", []string{"c"})
	assert.True(t, errors.Is(err, types.ErrGeneration))
}

type emptyModel struct{}

func (emptyModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func (emptyModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", nil
}

func TestGenerate_Timeout(t *testing.T) {
	model := &fakeModel{block: true}
	engine, err := llm.NewWithModel(llm.ChatConfig{Timeout: 20 * time.Millisecond}, model)
	require.NoError(t, err)

	start := time.Now()
	_, err = engine.Generate(context.Background(), "q", []string{"c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrGenerationTimeout))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGenerate_RateLimit(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	engine, err := llm.NewWithModel(llm.ChatConfig{RateLimit: 10}, model)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := engine.Generate(context.Background(), "q", []string{"c"})
		require.NoError(t, err)
	}
	// burst of one, then one call every 100ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 3, model.calls)
}

func TestGenerate_RateLimitPastDeadlineIsTimeout(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	engine, err := llm.NewWithModel(llm.ChatConfig{RateLimit: 0.1, Timeout: time.Second}, model)
	require.NoError(t, err)

	_, err = engine.Generate(context.Background(), "q", []string{"c"})
	require.NoError(t, err)

	start := time.Now()
	_, err = engine.Generate(context.Background(), "q", []string{"c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrGenerationTimeout))
	assert.Equal(t, types.KindGeneration, types.KindOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, model.calls)
}

func TestGenerate_RateLimitCancelled(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	engine, err := llm.NewWithModel(llm.ChatConfig{RateLimit: 0.1}, model)
	require.NoError(t, err)

	_, err = engine.Generate(context.Background(), "q", []string{"c"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Generate(ctx, "q", []string{"c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrGeneration))
	assert.False(t, errors.Is(err, types.ErrGenerationTimeout))
}
