package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const ocrPrompt = `You are transcribing a receipt or invoice document. Read every piece of text in the image, top to bottom, and return it as plain text with one line per printed line. Preserve the original language. Do not summarize, do not add commentary, return only the transcribed text.`

const translatePrompt = `Translate the following receipt text to English. Detect the source language first.

Return ONLY valid JSON in this exact format:
{
  "text": "the translated text",
  "source_language": "ISO 639-1 code of the detected source language"
}

If the text is already in English, return it unchanged with "source_language": "en".
Do not include any text before or after the JSON. Do not use markdown code blocks.

Text:
`

// Gemini implements the OCR, Translator, Embedder and Chatter interfaces
// using Google Gemini.
type Gemini struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	embedDoc   *genai.EmbeddingModel
	embedQuery *genai.EmbeddingModel
	timeout    time.Duration
}

// NewGemini creates a new Gemini provider
func NewGemini(apiKey, modelName, embeddingModelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	if embeddingModelName == "" {
		embeddingModelName = "text-embedding-004"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	embedDoc := client.EmbeddingModel(embeddingModelName)
	embedDoc.TaskType = genai.TaskTypeRetrievalDocument
	embedQuery := client.EmbeddingModel(embeddingModelName)
	embedQuery.TaskType = genai.TaskTypeRetrievalQuery

	return &Gemini{
		client:     client,
		model:      client.GenerativeModel(modelName),
		embedDoc:   embedDoc,
		embedQuery: embedQuery,
		timeout:    30 * time.Second,
	}, nil
}

// ExtractText transcribes all text in a receipt image
func (g *Gemini) ExtractText(ctx context.Context, imageData []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// genai.ImageData expects just the format suffix, and prepareImageData
	// always yields PNG
	finalImageData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return "", err
	}

	resp, err := g.model.GenerateContent(ctx,
		genai.ImageData("png", finalImageData),
		genai.Text(ocrPrompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", fmt.Errorf("no text in gemini response")
	}
	return text, nil
}

// Translate translates receipt text to English, detecting the source
// language. English input passes through unchanged.
func (g *Gemini) Translate(ctx context.Context, text string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, genai.Text(translatePrompt+text))
	if err != nil {
		return "", "", fmt.Errorf("generating content: %w", err)
	}

	result, err := parseTranslationJSON(responseText(resp))
	if err != nil {
		return "", "", fmt.Errorf("parsing translation: %w", err)
	}
	return result.Text, result.SourceLanguage, nil
}

// Embed generates a vector for the given text
func (g *Gemini) Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.embedDoc
	if mode == ModeQuery {
		model = g.embedQuery
	}

	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding from gemini")
	}
	return resp.Embedding.Values, nil
}

// Answer generates a free-text answer from a prompt
func (g *Gemini) Answer(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", fmt.Errorf("no response from gemini")
	}
	return text, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}
