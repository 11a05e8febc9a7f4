package types

import "errors"

// Kind groups errors by how callers must react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindConfiguration
	KindModelUnavailable
	KindDimensionMismatch
	KindEmptyInput
	KindGeneration
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input error"
	case KindConfiguration:
		return "configuration error"
	case KindModelUnavailable:
		return "model unavailable"
	case KindDimensionMismatch:
		return "dimension mismatch"
	case KindEmptyInput:
		return "empty input"
	case KindGeneration:
		return "generation error"
	default:
		return "unknown error"
	}
}

// Error is a sentinel carrying its Kind. Wrap it with fmt.Errorf("%w: ...")
// to add detail.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

var (
	ErrUnsupportedFileType = newError(KindInput, "unsupported file type")
	ErrEmptyDocument       = newError(KindInput, "document contains no text")
	ErrMalformedPDF        = newError(KindInput, "malformed pdf")
	ErrDocumentTooLarge    = newError(KindInput, "document too large")
	ErrNoDocument          = newError(KindInput, "no document has been processed")
	ErrEmptyQuestion       = newError(KindInput, "question is empty")

	ErrInvalidChunking   = newError(KindConfiguration, "invalid chunking parameters")
	ErrMissingCredential = newError(KindConfiguration, "missing service credential")
	ErrInvalidConfig     = newError(KindConfiguration, "invalid configuration")

	ErrModelUnavailable = newError(KindModelUnavailable, "embedding model unavailable")

	ErrDimensionMismatch = newError(KindDimensionMismatch, "vector dimension mismatch")
	ErrEmptyInput        = newError(KindEmptyInput, "no vectors to index")

	ErrGeneration        = newError(KindGeneration, "answer generation failed")
	ErrGenerationTimeout = newError(KindGeneration, "answer generation timed out")
)

// KindOf reports the kind of the first taxonomy error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
