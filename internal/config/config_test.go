package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "PromptForge-MCP/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Transport != "stdio" {
		t.Fatalf("transport = %s, want stdio", cfg.Server.Transport)
	}
	if cfg.DefaultProvider != DefaultProviderName {
		t.Fatalf("default provider = %s, want %s", cfg.DefaultProvider, DefaultProviderName)
	}
	provider := cfg.Providers[DefaultProviderName]
	if provider.APIEndpoint != DefaultAPIEndpoint || provider.DefaultModel != DefaultModel {
		t.Fatalf("unexpected synthesized provider: %+v", provider)
	}
	if cfg.Breakdown.MinComplexity != 1 || cfg.Breakdown.MaxComplexity != 10 {
		t.Fatalf("unexpected breakdown bounds: %+v", cfg.Breakdown)
	}
	if cfg.LLM.Timeout() != 120*time.Second {
		t.Fatalf("timeout = %v, want 120s", cfg.LLM.Timeout())
	}
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  transport: http
  address: ":9000"
default_provider: lmstudio
providers:
  lmstudio:
    api_endpoint: http://127.0.0.1:1234/v1
    api_key: 本地测试
    default_model: qwen/qwen3-8b
  claude:
    type: anthropic
    api_key_env: ANTHROPIC_API_KEY
    default_model: claude-sonnet-4-5
refinement:
  prompts_directory: prompts
llm:
  timeout_seconds: 30
  temperature: 0.2
breakdown:
  min_complexity: 2
  max_complexity: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Transport != "http" || cfg.Server.Address != ":9000" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Providers["lmstudio"].Type != "openai" {
		t.Fatalf("provider type should default to openai, got %s", cfg.Providers["lmstudio"].Type)
	}
	wantDir := filepath.Join(filepath.Dir(path), "prompts")
	if cfg.Refinement.PromptsDirectory != wantDir {
		t.Fatalf("prompts directory = %s, want %s", cfg.Refinement.PromptsDirectory, wantDir)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.Breakdown.MinComplexity != 2 || cfg.Breakdown.MaxComplexity != 8 {
		t.Fatalf("unexpected breakdown bounds: %+v", cfg.Breakdown)
	}
	names := cfg.ProviderNames()
	if len(names) != 2 || names[0] != "claude" || names[1] != "lmstudio" {
		t.Fatalf("unexpected provider names: %v", names)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "providers: [broken")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("code = %s, want CONFIGURATION", xerrors.CodeOf(err))
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name: "unknown transport",
			content: `
server:
  transport: grpc
`,
		},
		{
			name: "unknown provider type",
			content: `
providers:
  weird:
    type: carrier-pigeon
    api_endpoint: http://localhost:1234/v1
    default_model: m
`,
		},
		{
			name: "default provider not configured",
			content: `
default_provider: missing
providers:
  local:
    api_endpoint: http://localhost:1234/v1
    default_model: m
`,
		},
		{
			name: "missing default model",
			content: `
providers:
  local:
    api_endpoint: http://localhost:1234/v1
`,
		},
		{
			name: "bad endpoint",
			content: `
providers:
  local:
    api_endpoint: "not a url"
    default_model: m
`,
		},
		{
			name: "stdout log under stdio",
			content: `
log:
  output_paths: [stdout]
`,
		},
		{
			name: "inverted complexity bounds",
			content: `
breakdown:
  min_complexity: 9
  max_complexity: 3
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, xerrors.New(xerrors.CodeConfiguration, "")) {
				t.Fatalf("expected CONFIGURATION code, got: %v", err)
			}
		})
	}
}

func TestLoadEmptyPathFails(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
