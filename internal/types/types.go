package types

import (
	"context"
)

// Core interfaces

// Splitter turns a document's text into ordered chunks.
type Splitter interface {
	Split(text string) ([]string, error)
}

// Embedder maps texts into the vector space of a single model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Generator answers a question from the supplied context passages.
type Generator interface {
	Generate(ctx context.Context, question string, passages []string) (string, error)
}
