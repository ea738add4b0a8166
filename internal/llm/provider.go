// Package llm builds the text-generation backend selected by configuration.
package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kalambet/historian/internal/enrich"
	"github.com/kalambet/historian/internal/ollama"
)

// Provider names accepted in ai.provider.
const (
	ProviderGemini           = "gemini"
	ProviderOpenRouter       = "openrouter"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
	ProviderOllama           = "ollama"
)

const (
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

var defaultModels = map[string]string{
	ProviderGemini:           "gemini-2.0-flash",
	ProviderOpenRouter:       "google/gemini-2.0-flash-001",
	ProviderOpenAICompatible: "gpt-4o-mini",
	ProviderOpenAI:           "gpt-4o-mini",
	ProviderAnthropic:        "claude-haiku-4-5-20251001",
	ProviderOllama:           "llama3.2",
}

// Options selects and configures a provider.
type Options struct {
	Provider        string
	BaseURL         string
	Model           string
	APIKey          string
	MaxOutputTokens int
	OllamaURL       string
}

// NormalizeProvider lowercases and canonicalises a provider name.
func NormalizeProvider(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	p = strings.ReplaceAll(p, "_", "-")
	switch p {
	case "", "google":
		return ProviderGemini
	case "openaicompatible", "compat":
		return ProviderOpenAICompatible
	}
	return p
}

// ModelFor returns o.Model or the provider default.
func (o Options) ModelFor() string {
	if m := strings.TrimSpace(o.Model); m != "" {
		return m
	}
	return defaultModels[NormalizeProvider(o.Provider)]
}

// New returns the configured generator. A nil generator with a nil error
// means the provider needs an API key and none is set.
func New(o Options) (enrich.Generator, error) {
	provider := NormalizeProvider(o.Provider)
	model := o.ModelFor()
	key := strings.TrimSpace(o.APIKey)

	if provider == ProviderOllama {
		return NewOllamaGenerator(ollama.New(o.OllamaURL), model, o.MaxOutputTokens), nil
	}
	if _, known := defaultModels[provider]; !known {
		return nil, fmt.Errorf("unknown ai.provider %q", o.Provider)
	}
	if key == "" {
		return nil, nil
	}

	switch provider {
	case ProviderGemini:
		return NewCompatClient(key, firstNonEmpty(o.BaseURL, geminiBaseURL), model, o.MaxOutputTokens), nil
	case ProviderOpenRouter:
		return NewCompatClient(key, firstNonEmpty(o.BaseURL, openRouterBaseURL), model, o.MaxOutputTokens), nil
	case ProviderOpenAICompatible:
		if o.BaseURL == "" {
			return nil, fmt.Errorf("ai.base_url is required for provider %s", provider)
		}
		return NewCompatClient(key, o.BaseURL, model, o.MaxOutputTokens), nil
	case ProviderOpenAI:
		return newOpenAIGenerator(key, o.BaseURL, model, o.MaxOutputTokens), nil
	default:
		return newAnthropicGenerator(key, o.BaseURL, model, o.MaxOutputTokens), nil
	}
}

// Fingerprint identifies the provider, model and credential without
// revealing the key. A change means cached results came from elsewhere.
func Fingerprint(o Options) string {
	sum := sha256.Sum256([]byte(NormalizeProvider(o.Provider) + "\x00" + o.ModelFor() + "\x00" + strings.TrimSpace(o.APIKey)))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
