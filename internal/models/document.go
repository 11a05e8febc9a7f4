package models

// Document is the raw text of one uploaded file.
type Document struct {
	Name    string
	Type    string // pdf, txt or html
	Content string
}

// Chunk is a contiguous span of a document. Start and End are rune offsets
// of the untrimmed span; Text is the trimmed span.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Passage is a retrieved chunk together with its similarity score.
type Passage struct {
	Ordinal int     `json:"ordinal"`
	Score   float32 `json:"score"`
	Text    string  `json:"text"`
}

// Answer is the outcome of one question. When generation failed, Err is set
// and Text holds the user-visible failure message.
type Answer struct {
	Question string    `json:"question"`
	Text     string    `json:"answer"`
	Context  []Passage `json:"context"`
	K        int       `json:"k"`
	Err      error     `json:"-"`
}

// ContextTexts returns the passage texts in retrieval order.
func (a *Answer) ContextTexts() []string {
	texts := make([]string, len(a.Context))
	for i, p := range a.Context {
		texts[i] = p.Text
	}
	return texts
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a session's chat history.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Context []string `json:"context,omitempty"`
}
