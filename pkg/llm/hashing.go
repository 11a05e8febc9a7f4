package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultHashingDimension = 384

// HashingModel is an offline embedding model. Lower-cased word tokens are
// hashed into a fixed number of buckets with a signed hash and the result
// is L2-normalised, so texts sharing words score high under inner product.
type HashingModel struct {
	dim int
}

func NewHashingModel(dim int) *HashingModel {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &HashingModel{dim: dim}
}

func (h *HashingModel) Dimension() int { return h.dim }

func (h *HashingModel) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = h.vector(text)
	}
	return vectors, nil
}

func (h *HashingModel) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *HashingModel) vector(text string) []float32 {
	acc := make([]float64, h.dim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		hasher := fnv.New64a()
		hasher.Write([]byte(tok))
		sum := hasher.Sum64()

		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		acc[sum%uint64(h.dim)] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dim)
	if norm == 0 {
		return out
	}
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}
