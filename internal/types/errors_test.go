package types_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xhad/docqa/internal/types"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.Kind
	}{
		{"wrapped input", fmt.Errorf("%w: .docx", types.ErrUnsupportedFileType), types.KindInput},
		{"double wrapped", fmt.Errorf("failed to process: %w", fmt.Errorf("%w: 1200/1200", types.ErrInvalidChunking)), types.KindConfiguration},
		{"timeout", types.ErrGenerationTimeout, types.KindGeneration},
		{"plain", errors.New("boom"), types.KindUnknown},
		{"nil", nil, types.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, types.KindOf(tt.err))
		})
	}
}

func TestSentinelsMatchWithIs(t *testing.T) {
	err := fmt.Errorf("failed to build index: %w", types.ErrDimensionMismatch)

	assert.True(t, errors.Is(err, types.ErrDimensionMismatch))
	assert.False(t, errors.Is(err, types.ErrEmptyInput))
	assert.Equal(t, "dimension mismatch", types.KindOf(err).String())
}
