package rag

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/store"
)

// Config controls retrieval.
type Config struct {
	DefaultK        int
	SummaryK        int
	SummaryKeywords []string
	BatchSize       int // chunks per embedding call
}

// ProgressFunc is called after every embedding batch.
type ProgressFunc func(done, total int)

// Pipeline wires the splitter, embedder, index and generator together.
// It holds no per-document state; that lives in a Session.
type Pipeline struct {
	config    Config
	splitter  types.Splitter
	embedder  types.Embedder
	generator types.Generator
}

// New creates a pipeline. generator may be nil, in which case Ask fails
// with ErrMissingCredential.
func New(config Config, splitter types.Splitter, embedder types.Embedder, generator types.Generator) (*Pipeline, error) {
	if splitter == nil || embedder == nil {
		return nil, fmt.Errorf("%w: pipeline needs a splitter and an embedder", types.ErrInvalidConfig)
	}
	if config.DefaultK <= 0 {
		config.DefaultK = 5
	}
	if config.SummaryK <= 0 {
		config.SummaryK = 8
	}
	if len(config.SummaryKeywords) == 0 {
		config.SummaryKeywords = []string{"summarize", "summary", "overview"}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	return &Pipeline{
		config:    config,
		splitter:  splitter,
		embedder:  embedder,
		generator: generator,
	}, nil
}

func (p *Pipeline) Config() Config {
	return p.config
}

// HasGenerator reports whether questions can be answered.
func (p *Pipeline) HasGenerator() bool {
	return p.generator != nil
}

// Process chunks, embeds and indexes doc, then installs it in the session.
// On error the session keeps its previous document. It returns the number
// of chunks indexed.
func (p *Pipeline) Process(ctx context.Context, s *Session, doc *models.Document, progress ProgressFunc) (int, error) {
	s.exchange.Lock()
	defer s.exchange.Unlock()

	chunks, err := p.splitter.Split(doc.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to split document: %w", err)
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: %s", types.ErrEmptyDocument, doc.Name)
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(chunks))

		batch, err := p.embedder.Embed(ctx, chunks[start:end])
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)

		if progress != nil {
			progress(end, len(chunks))
		}
	}

	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: %d vectors for %d chunks", types.ErrDimensionMismatch, len(vectors), len(chunks))
	}

	index, err := store.Build(vectors)
	if err != nil {
		return 0, fmt.Errorf("failed to build index: %w", err)
	}

	s.replace(doc, chunks, index)
	log.Printf("PIPELINE: session %s indexed %q (%d chunks, %d dims)", s.ID, doc.Name, len(chunks), index.Dim())

	return len(chunks), nil
}

// SelectK returns how many passages to retrieve for question. Summary
// style questions get more context.
func (p *Pipeline) SelectK(question string) int {
	q := strings.ToLower(question)
	for _, keyword := range p.config.SummaryKeywords {
		if strings.Contains(q, strings.ToLower(keyword)) {
			return p.config.SummaryK
		}
	}
	return p.config.DefaultK
}

// Retrieve returns the k passages most similar to question, best first.
func (p *Pipeline) Retrieve(ctx context.Context, s *Session, question string, k int) ([]models.Passage, error) {
	chunks, index := s.snapshot()
	if index == nil {
		return nil, types.ErrNoDocument
	}

	query, err := p.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	hits, err := index.Search(query, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	passages := make([]models.Passage, len(hits))
	for i, hit := range hits {
		passages[i] = models.Passage{
			Ordinal: hit.Ordinal,
			Score:   hit.Score,
			Text:    chunks[hit.Ordinal],
		}
	}
	return passages, nil
}

// Ask answers question from the session's document and records the
// exchange in the history. Generation failures do not return an error:
// the answer carries the failure message and Err instead.
func (p *Pipeline) Ask(ctx context.Context, s *Session, question string) (*models.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, types.ErrEmptyQuestion
	}
	if p.generator == nil {
		return nil, fmt.Errorf("%w: no answer generator configured", types.ErrMissingCredential)
	}

	s.exchange.Lock()
	defer s.exchange.Unlock()

	k := p.SelectK(question)
	passages, err := p.Retrieve(ctx, s, question, k)
	if err != nil {
		return nil, err
	}

	answer := &models.Answer{
		Question: question,
		Context:  passages,
		K:        k,
	}

	text, err := p.generator.Generate(ctx, question, answer.ContextTexts())
	if err != nil {
		log.Printf("PIPELINE ERROR: session %s: %v", s.ID, err)
		answer.Text = llm.FailureMessage(err)
		answer.Err = err
	} else {
		answer.Text = text
	}

	s.record(
		models.Message{Role: models.RoleUser, Content: question},
		models.Message{Role: models.RoleAssistant, Content: answer.Text, Context: answer.ContextTexts()},
	)

	return answer, nil
}
