package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("SKEIN_TEST_KEY", "sk-secret")

	cases := []struct {
		in, want string
	}{
		{"${SKEIN_TEST_KEY}", "sk-secret"},
		{"$SKEIN_TEST_KEY", "sk-secret"},
		{"literal-value", "literal-value"},
		{"${SKEIN_TEST_MISSING}", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := expandEnv(tc.in); got != tc.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveAnthropicCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")

	cfg := AnthropicConfig{}
	resolveAnthropicCredentials(&cfg)
	if cfg.APIKey != "sk-from-env" {
		t.Errorf("empty key should fall back to ANTHROPIC_API_KEY, got %q", cfg.APIKey)
	}

	cfg = AnthropicConfig{APIKey: "sk-explicit"}
	resolveAnthropicCredentials(&cfg)
	if cfg.APIKey != "sk-explicit" {
		t.Errorf("explicit key must win, got %q", cfg.APIKey)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{Provider: "anthropic", Anthropic: AnthropicConfig{Model: "claude-sonnet-4-5"}}

	cfg.ApplyOverrides("", "claude-opus-4-5")
	if cfg.Anthropic.Model != "claude-opus-4-5" {
		t.Errorf("model override not applied: %q", cfg.Anthropic.Model)
	}

	cfg.ApplyOverrides("", "")
	if cfg.Anthropic.Model != "claude-opus-4-5" {
		t.Error("empty override must not clear the model")
	}
}
