package llm_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/pkg/llm"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestHashingModel(t *testing.T) {
	model := llm.NewHashingModel(0)
	assert.Equal(t, llm.DefaultHashingDimension, model.Dimension())

	v, err := model.EmbedQuery(context.Background(), "Paris is the capital of France")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, math.Sqrt(dot(v, v)), 1e-5)
}

func TestHashingModel_CaseAndPunctuationInsensitive(t *testing.T) {
	model := llm.NewHashingModel(128)

	a, _ := model.EmbedQuery(context.Background(), "Eiffel Tower!")
	b, _ := model.EmbedQuery(context.Background(), "eiffel, tower")
	assert.Equal(t, a, b)
}

func TestHashingModel_SharedWordsScoreHigher(t *testing.T) {
	model := llm.NewHashingModel(256)
	ctx := context.Background()

	docs, err := model.EmbedDocuments(ctx, []string{
		"Paris is known for the Eiffel Tower and its museums.",
		"Photosynthesis converts light into chemical energy in plants.",
	})
	require.NoError(t, err)

	q, _ := model.EmbedQuery(ctx, "What is Paris known for?")
	assert.Greater(t, dot(q, docs[0]), dot(q, docs[1]))
}

func TestHashingModel_NoTokens(t *testing.T) {
	model := llm.NewHashingModel(8)

	v, err := model.EmbedQuery(context.Background(), " ... ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}
