package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelhq/sentinel/internal/config"
)

var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
}

// NormalizeProviderID lower-cases id and resolves aliases.
func NormalizeProviderID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := providerAliases[lower]; ok {
		return canonical
	}
	return lower
}

// ParseModelString splits a "provider/model" string. A bare model name
// returns an empty provider ID.
func ParseModelString(s string) (providerID, modelName string) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "/", 2)
	if len(parts) < 2 {
		return "", s
	}
	return strings.ToLower(parts[0]), parts[1]
}

// Resolve builds the configured AIProvider. model.name may carry a
// "provider/" prefix which overrides model.provider.
func Resolve(ctx context.Context, cfg *config.Config) (AIProvider, error) {
	provID, model := ParseModelString(cfg.Model.Name)
	if provID == "" {
		provID = cfg.Model.Provider
	}
	provID = NormalizeProviderID(provID)
	if provID == "" {
		provID = "anthropic"
	}

	switch provID {
	case "anthropic":
		pc := cfg.Providers.Anthropic
		if pc.APIKey == "" {
			return nil, fmt.Errorf("anthropic: api key not configured")
		}
		if model == "" {
			model = pc.Model
		}
		return NewAnthropicProvider(AnthropicOptions{APIKey: pc.APIKey, BaseURL: pc.APIBase, Model: model}), nil
	case "gemini":
		pc := cfg.Providers.Gemini
		if pc.APIKey == "" {
			return nil, fmt.Errorf("gemini: api key not configured")
		}
		if model == "" {
			model = pc.Model
		}
		return NewGeminiProvider(ctx, GeminiOptions{APIKey: pc.APIKey, BaseURL: pc.APIBase, Model: model})
	default:
		return nil, fmt.Errorf("unknown provider %q", provID)
	}
}
