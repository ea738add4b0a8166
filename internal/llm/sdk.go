package llm

import (
	"context"
	"errors"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
)

// SDKGenerator generates text through a jetify language model backed by the
// official OpenAI or Anthropic SDK.
type SDKGenerator struct {
	model           jetapi.LanguageModel
	modelID         string
	maxOutputTokens int
}

func (g *SDKGenerator) Model() string { return g.modelID }

func (g *SDKGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := jetai.GenerateText(
		ctx,
		[]jetapi.Message{&jetapi.UserMessage{Content: jetapi.ContentFromText(prompt)}},
		jetai.WithModel(g.model),
		jetai.WithMaxOutputTokens(g.maxOutputTokens),
	)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func responseText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from provider")
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		tb, ok := block.(*jetapi.TextBlock)
		if !ok || tb.Text == "" {
			continue
		}
		sb.WriteString(tb.Text)
	}
	return sb.String(), nil
}

// newOpenAIGenerator builds a generator over openai-go. Retries are left to
// the caller's timeout.
func newOpenAIGenerator(apiKey, baseURL, modelID string, maxOutputTokens int) *SDKGenerator {
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	client := openaiclient.NewClient(opts...)
	return &SDKGenerator{
		model:           jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client)),
		modelID:         modelID,
		maxOutputTokens: maxOutputTokens,
	}
}

func newAnthropicGenerator(apiKey, baseURL, modelID string, maxOutputTokens int) *SDKGenerator {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	client := anthropicclient.NewClient(opts...)
	return &SDKGenerator{
		model:           jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client)),
		modelID:         modelID,
		maxOutputTokens: maxOutputTokens,
	}
}
