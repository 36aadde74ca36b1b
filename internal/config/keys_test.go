package config

import (
	"errors"
	"testing"
)

func TestGetAPIKey(t *testing.T) {
	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

		key, err := GetAPIKey(&Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-ant-test-key" {
			t.Errorf("expected 'sk-ant-test-key', got %q", key)
		}
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}
		key, err := GetAPIKey(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-ant-config-key" {
			t.Errorf("expected 'sk-ant-config-key', got %q", key)
		}
	})

	t.Run("config references env", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("SLEUTH_TEST_KEY", "sk-ant-from-ref")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "${SLEUTH_TEST_KEY}"}}
		key, err := GetAPIKey(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "sk-ant-from-ref" {
			t.Errorf("expected 'sk-ant-from-ref', got %q", key)
		}
	})

	t.Run("no key configured", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		_, err := GetAPIKey(&Config{})
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})
}

func TestRequireCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if err := RequireCredentials(&Config{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
	if err := RequireCredentials(&Config{Anthropic: AnthropicConfig{UseBedrock: true}}); err != nil {
		t.Errorf("bedrock should not need a key: %v", err)
	}
	if err := RequireCredentials(&Config{Anthropic: AnthropicConfig{APIKey: "not-a-key"}}); err == nil {
		t.Error("expected malformed key to be rejected")
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty key", "", true},
		{"wrong prefix", "sk-wrong-prefix-key-12345", true},
		{"too short", "sk-ant-abc", true},
		{"valid key", "sk-ant-REDACTED", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...mnop"},
	}

	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestGetAPIKeySource(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if got := GetAPIKeySource(&Config{}); got != KeySourceNone {
		t.Errorf("expected none, got %s", got)
	}
	if got := GetAPIKeySource(&Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config"}}); got != KeySourceConfig {
		t.Errorf("expected config_file, got %s", got)
	}
	if got := GetAPIKeySource(&Config{Anthropic: AnthropicConfig{APIKey: "${SLEUTH_UNSET_VAR}"}}); got != KeySourceNone {
		t.Errorf("expected none for unresolved reference, got %s", got)
	}
	if got := GetAPIKeySource(&Config{Anthropic: AnthropicConfig{UseBedrock: true}}); got != KeySourceBedrock {
		t.Errorf("expected aws_bedrock, got %s", got)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	if got := GetAPIKeySource(&Config{}); got != KeySourceEnv {
		t.Errorf("expected environment, got %s", got)
	}
}
