// Package providers contains the adapters around the external OCR,
// translation, embedding and chat services the pipeline consumes.
package providers

import "context"

// EmbedMode selects the embedding task type. Documents and queries must be
// embedded into the same vector space for retrieval to work; the mode only
// hints the provider at which side of that space the text is on.
type EmbedMode string

const (
	ModeDocument EmbedMode = "document"
	ModeQuery    EmbedMode = "query"
)

// OCR extracts the raw text from a receipt image
type OCR interface {
	// ExtractText transcribes all text visible in the image. imageData
	// may be any supported format (PNG, JPEG, GIF, HEIC, PDF).
	ExtractText(ctx context.Context, imageData []byte, contentType string) (string, error)
}

// Translator translates receipt text to the target language. Text already in
// the target language is passed through unchanged with its detected source
// language.
type Translator interface {
	Translate(ctx context.Context, text string) (translated string, sourceLanguage string, err error)
}

// Embedder turns text into a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error)
}

// Chatter generates a free-text answer from a prompt
type Chatter interface {
	Answer(ctx context.Context, prompt string) (string, error)
}
