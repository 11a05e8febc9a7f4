package processor

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

const (
	StrategyRecursive = "recursive"
	StrategyLangchain = "langchain"
)

// DefaultSeparators are tried coarsest first. The empty separator is the
// raw character cut of last resort.
var DefaultSeparators = []string{
	"\n\n\n", // section break
	"\n\n",   // paragraph
	"\n",
	". ",
	"! ",
	"? ",
	"; ",
	", ",
	" ",
	"",
}

type ProcessorConfig struct {
	Strategy     string
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// Processor splits document text into overlapping chunks.
type Processor struct {
	config     ProcessorConfig
	separators [][]rune
	langchain  *textsplitter.RecursiveCharacter
}

// NewWithConfig validates the chunking parameters. A zero ChunkSize selects
// the default of 1200; ChunkOverlap is taken as given.
func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.Strategy == "" {
		config.Strategy = StrategyRecursive
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 1200
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}

	if config.ChunkOverlap < 0 || config.ChunkSize <= config.ChunkOverlap {
		return nil, fmt.Errorf("%w: chunk_size (%d) must be greater than chunk_overlap (%d) and overlap must be non-negative",
			types.ErrInvalidChunking, config.ChunkSize, config.ChunkOverlap)
	}

	p := &Processor{config: config}

	switch config.Strategy {
	case StrategyRecursive:
		for _, sep := range config.Separators {
			if sep == "" {
				// everything after the character cut is unreachable
				break
			}
			p.separators = append(p.separators, []rune(sep))
		}
	case StrategyLangchain:
		splitter := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(config.Separators),
		)
		p.langchain = &splitter
	default:
		return nil, fmt.Errorf("%w: unknown chunking strategy %q", types.ErrInvalidChunking, config.Strategy)
	}

	return p, nil
}

// New returns a recursive processor with the given size and overlap.
func New(chunkSize, overlap int) (*Processor, error) {
	return NewWithConfig(ProcessorConfig{ChunkSize: chunkSize, ChunkOverlap: overlap})
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Split returns the chunk texts in document order.
func (p *Processor) Split(text string) ([]string, error) {
	if p.langchain != nil {
		return p.splitLangchain(text)
	}

	chunks := p.Chunks(text)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts, nil
}

// Chunks splits text and keeps each chunk's rune span in the source.
//
// A chunk starting at offset s ends right after the last occurrence of the
// coarsest separator inside [s, s+ChunkSize). Separators that only occur at
// or before s+ChunkOverlap are skipped in favour of the next finer one, so
// every step advances. The next chunk starts ChunkOverlap runes before the
// previous end.
//
// Windows that are only whitespace produce no chunk. Their runes are folded
// into the span of the next kept chunk, or of the last one at the end of the
// text, so spans still overlap by ChunkOverlap and cover the whole text.
func (p *Processor) Chunks(text string) []models.Chunk {
	runes := []rune(text)
	n := len(runes)

	var chunks []models.Chunk
	start, gap := 0, -1
	for start < n {
		end := n
		if n-start > p.config.ChunkSize {
			end = p.breakPoint(runes, start)
		}

		if trimmed := strings.TrimSpace(string(runes[start:end])); trimmed != "" {
			from := start
			if gap >= 0 {
				from, gap = gap, -1
			}
			chunks = append(chunks, models.Chunk{
				Index: len(chunks),
				Text:  trimmed,
				Start: from,
				End:   end,
			})
		} else if gap < 0 {
			gap = start
		}

		if end == n {
			break
		}
		start = end - p.config.ChunkOverlap
	}

	if gap >= 0 && len(chunks) > 0 {
		chunks[len(chunks)-1].End = n
	}

	return chunks
}

func (p *Processor) breakPoint(runes []rune, start int) int {
	limit := start + p.config.ChunkSize
	floor := start + p.config.ChunkOverlap
	window := runes[start:limit]

	for _, sep := range p.separators {
		if at := lastBreak(window, sep); at >= 0 && start+at > floor {
			return start + at
		}
	}

	return limit
}

// lastBreak returns the offset just past the last complete occurrence of sep
// in window, or -1.
func lastBreak(window, sep []rune) int {
	for i := len(window) - len(sep); i >= 0; i-- {
		if hasPrefixAt(window, sep, i) {
			return i + len(sep)
		}
	}
	return -1
}

func hasPrefixAt(s, prefix []rune, at int) bool {
	for j, r := range prefix {
		if s[at+j] != r {
			return false
		}
	}
	return true
}

func (p *Processor) splitLangchain(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	parts, err := p.langchain.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}

	chunks := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks, nil
}
