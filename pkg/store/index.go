package store

import (
	"fmt"
	"sort"

	"github.com/xhad/docqa/internal/types"
)

// Hit is one search result. Ordinal is the row the vector was built at,
// which is also the chunk ordinal.
type Hit struct {
	Ordinal int     `json:"ordinal"`
	Score   float32 `json:"score"`
}

// Index is an exact inner-product index over a fixed set of vectors.
// It is immutable once built and safe for concurrent searches.
type Index struct {
	dim    int
	n      int
	matrix []float32 // n x dim, row major
}

// Build copies vectors into a new index. Every row must have the same
// non-zero length.
func Build(vectors [][]float32) (*Index, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: zero rows", types.ErrEmptyInput)
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero-length vectors", types.ErrEmptyInput)
	}

	matrix := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has %d dimensions, expected %d",
				types.ErrDimensionMismatch, i, len(v), dim)
		}
		matrix = append(matrix, v...)
	}

	return &Index{dim: dim, n: len(vectors), matrix: matrix}, nil
}

// Len returns the number of indexed vectors.
func (idx *Index) Len() int { return idx.n }

// Dim returns the vector dimension.
func (idx *Index) Dim() int { return idx.dim }

// Search returns the min(k, Len()) rows with the highest inner product
// against query, best first. Equal scores are ordered by ordinal.
func (idx *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			types.ErrDimensionMismatch, len(query), idx.dim)
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	if k > idx.n {
		k = idx.n
	}

	hits := make([]Hit, idx.n)
	for i := 0; i < idx.n; i++ {
		hits[i] = Hit{Ordinal: i, Score: dot(idx.matrix[i*idx.dim:(i+1)*idx.dim], query)}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Ordinal < hits[b].Ordinal
	})

	return hits[:k], nil
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
