package llm

import (
	"context"

	"github.com/kalambet/historian/internal/ollama"
)

// OllamaChatter is the subset of the Ollama client used for generation.
type OllamaChatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, opts *ollama.ChatOptions) (string, error)
}

// OllamaGenerator runs prompts against a local Ollama model.
type OllamaGenerator struct {
	client          OllamaChatter
	model           string
	maxOutputTokens int
}

func NewOllamaGenerator(client OllamaChatter, model string, maxOutputTokens int) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model, maxOutputTokens: maxOutputTokens}
}

func (g *OllamaGenerator) Model() string { return g.model }

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var opts *ollama.ChatOptions
	if g.maxOutputTokens > 0 {
		opts = &ollama.ChatOptions{NumPredict: g.maxOutputTokens}
	}
	return g.client.Chat(ctx, g.model, []ollama.Message{{Role: "user", Content: prompt}}, opts)
}
