// Package openai adapts the OpenAI chat-completions API to the
// classify.Classifier interface.
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"tally/internal/classify"
	"tally/internal/core"
)

const systemPrompt = "You classify personal expenses. Answer with minified JSON only."

// Classifier calls the OpenAI chat-completions endpoint with a strict JSON
// response contract.
type Classifier struct {
	client *goopenai.Client
	model  string
}

var _ classify.Classifier = (*Classifier)(nil)

// New builds an OpenAI-backed classifier. model defaults to gpt-4o-mini.
func New(apiKey, model string) (*Classifier, error) {
	if apiKey == "" {
		return nil, errors.New("openai: missing API key")
	}
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &Classifier{
		client: goopenai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (c *Classifier) Classify(ctx context.Context, description string, amountCents int64) (core.Category, float64, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: classify.Prompt(description, amountCents)},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, errors.New("openai: completion returned no choices")
	}
	return classify.ParseAnswer(resp.Choices[0].Message.Content)
}
