package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

// geminiModel adapts the Gemini API to llms.Model so ChatEngine can treat
// it like the langchaingo providers.
type geminiModel struct {
	client *genai.Client
	model  string
}

var _ llms.Model = (*geminiModel)(nil)

func newGeminiModel(ctx context.Context, apiKey, model string) (*geminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiModel{client: client, model: model}, nil
}

func (g *geminiModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g, prompt, options...)
}

func (g *geminiModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	model := g.model
	if opts.Model != "" {
		model = opts.Model
	}

	config, contents := geminiRequest(messages, opts)

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text.String(),
			StopReason: string(resp.Candidates[0].FinishReason),
		}},
	}, nil
}

// geminiRequest splits system messages into the system instruction and maps
// the rest onto user and model turns.
func geminiRequest(messages []llms.MessageContent, opts llms.CallOptions) (*genai.GenerateContentConfig, []*genai.Content) {
	config := &genai.GenerateContentConfig{}
	if opts.Temperature != 0 {
		t := float32(opts.Temperature)
		config.Temperature = &t
	}
	if opts.TopP != 0 {
		p := float32(opts.TopP)
		config.TopP = &p
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}

	var system []*genai.Part
	var contents []*genai.Content
	for _, msg := range messages {
		var parts []*genai.Part
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				parts = append(parts, &genai.Part{Text: tc.Text})
			}
		}
		if len(parts) == 0 {
			continue
		}

		switch msg.Role {
		case llms.ChatMessageTypeSystem:
			system = append(system, parts...)
		case llms.ChatMessageTypeAI:
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: parts})
		}
	}

	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: system}
	}
	return config, contents
}
