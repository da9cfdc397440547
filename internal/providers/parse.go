package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// translationResult is the JSON shape the translation prompt asks for
type translationResult struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
}

// parseTranslationJSON parses the JSON response from the translation prompt.
// Models sometimes wrap JSON in markdown code blocks or surrounding prose, so
// the object is located by its braces before unmarshaling.
func parseTranslationJSON(text string) (*translationResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var result translationResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	if result.Text == "" {
		return nil, fmt.Errorf("empty translated text in response")
	}
	if result.SourceLanguage == "" {
		result.SourceLanguage = "en"
	}
	return &result, nil
}
