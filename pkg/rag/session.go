package rag

import (
	"sync"

	"github.com/google/uuid"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/store"
)

// Session is one user's current document, its index and the chat history.
// The zero value is not usable; use NewSession.
type Session struct {
	ID string

	// exchange serialises processing and question answering.
	exchange sync.Mutex

	mu       sync.RWMutex
	document *models.Document
	chunks   []string
	index    *store.Index
	history  []models.Message
}

func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// Reset drops the document, index and history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.document = nil
	s.chunks = nil
	s.index = nil
	s.history = nil
}

// Ready reports whether a document has been processed.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index != nil
}

func (s *Session) Document() *models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document
}

func (s *Session) Chunks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.chunks...)
}

func (s *Session) History() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.history...)
}

// replace installs a freshly processed document. The previous state,
// including the history, is reset first.
func (s *Session) replace(doc *models.Document, chunks []string, index *store.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.document = doc
	s.chunks = chunks
	s.index = index
}

func (s *Session) snapshot() ([]string, *store.Index) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks, s.index
}

func (s *Session) record(msgs ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}
