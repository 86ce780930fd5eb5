// Package gemini adapts the Gemini API to the classify.Classifier interface.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"tally/internal/classify"
	"tally/internal/core"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Classifier calls Gemini and decodes its JSON answer. Responses arrive as
// plain text, so fences and stray prose are tolerated by the shared parser.
type Classifier struct {
	client *genai.Client
	model  string
}

var _ classify.Classifier = (*Classifier)(nil)

// New builds a Gemini-backed classifier.
func New(ctx context.Context, apiKey, model string) (*Classifier, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: missing API key")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Classifier{client: client, model: model}, nil
}

func (c *Classifier) Classify(ctx context.Context, description string, amountCents int64) (core.Category, float64, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: classify.Prompt(description, amountCents)}},
		},
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", 0, fmt.Errorf("gemini generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return "", 0, errors.New("gemini: empty response")
	}
	return classify.ParseAnswer(raw)
}
