package provider

import (
	"context"
	"testing"

	"github.com/sentinelhq/sentinel/internal/config"
)

func TestParseModelString(t *testing.T) {
	tests := []struct {
		input      string
		wantProvID string
		wantModel  string
	}{
		{"anthropic/claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"Gemini/gemini-2.5-pro", "gemini", "gemini-2.5-pro"},
		{"bare-model-name", "", "bare-model-name"},
		{"", "", ""},
		{"  google/gemini-2.5-flash  ", "google", "gemini-2.5-flash"},
	}
	for _, tt := range tests {
		provID, model := ParseModelString(tt.input)
		if provID != tt.wantProvID || model != tt.wantModel {
			t.Errorf("ParseModelString(%q) = (%q, %q), want (%q, %q)",
				tt.input, provID, model, tt.wantProvID, tt.wantModel)
		}
	}
}

func TestNormalizeProviderID(t *testing.T) {
	tests := map[string]string{
		"claude":    "anthropic",
		"google":    "gemini",
		"ANTHROPIC": "anthropic",
		" gemini ":  "gemini",
		"other":     "other",
	}
	for in, want := range tests {
		if got := NormalizeProviderID(in); got != want {
			t.Errorf("NormalizeProviderID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.Providers.Anthropic.APIKey = "sk-test"
	p, err := Resolve(ctx, cfg)
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("expected anthropic, got %s", p.Name())
	}

	cfg.Model.Name = "google/gemini-2.5-pro"
	cfg.Providers.Gemini.APIKey = "g-test"
	p, err = Resolve(ctx, cfg)
	if err != nil {
		t.Fatalf("resolve gemini: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("expected gemini, got %s", p.Name())
	}

	cfg.Providers.Gemini.APIKey = ""
	if _, err := Resolve(ctx, cfg); err == nil {
		t.Error("expected error without gemini key")
	}

	cfg.Model.Name = "mystery/model"
	if _, err := Resolve(ctx, cfg); err == nil {
		t.Error("expected error for unknown provider")
	}
}
