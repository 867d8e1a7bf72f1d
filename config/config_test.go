package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dagornc/DagBot/internal/models"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "global.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_CFG_KEY", "sk-value")

	if got := expandEnv("key: ${TEST_CFG_KEY}"); got != "key: sk-value" {
		t.Errorf("expandEnv = %q", got)
	}
	if got := expandEnv("key: ${TEST_CFG_UNSET_VAR}"); got != "key: MISSING_TEST_CFG_UNSET_VAR" {
		t.Errorf("unset variable = %q, want visible marker", got)
	}
	if got := expandEnv("no placeholders"); got != "no placeholders" {
		t.Errorf("plain string mutated: %q", got)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_CFG_OR_KEY", "sk-or-test")
	writeConfig(t, `
app:
  name: gateway
  port: "9090"
llm_providers:
  openrouter:
    display_name: OpenRouter
    base_url: https://openrouter.ai/api/v1
    api_key: ${TEST_CFG_OR_KEY}
    default_model: auto
    supports_vision: true
  ollama:
    base_url: http://localhost:11434
    access_method: ollama_native
defaults:
  temperature: 0.5
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	or := cfg.Providers["openrouter"]
	if or.Name != "openrouter" {
		t.Errorf("name not backfilled: %+v", or)
	}
	if or.APIKey != "sk-or-test" {
		t.Errorf("api_key = %q, want env expansion", or.APIKey)
	}
	if or.AccessMethod != models.AccessOpenAICompatible {
		t.Errorf("access_method = %q, want default", or.AccessMethod)
	}

	ol := cfg.Providers["ollama"]
	if ol.AccessMethod != models.AccessOllamaNative {
		t.Errorf("access_method = %q", ol.AccessMethod)
	}
	if ol.DisplayName != "ollama" {
		t.Errorf("display_name = %q, want name fallback", ol.DisplayName)
	}

	if cfg.Defaults.Temperature != 0.5 {
		t.Errorf("temperature = %v, want the configured value", cfg.Defaults.Temperature)
	}
	if cfg.Defaults.TopP != 1.0 || cfg.Defaults.MaxTokens != 4096 {
		t.Errorf("defaults not filled: %+v", cfg.Defaults)
	}
}

func TestLoad_NoProviders(t *testing.T) {
	writeConfig(t, "app:\n  name: gateway\n")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for empty provider map")
	}
}
