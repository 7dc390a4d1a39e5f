package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "INSIGHT_MODEL", "INSIGHT_WORK_DIR", "INSIGHT_USER_ID", "INSIGHT_URL", "INSIGHT_DB"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "transcript-insight" {
		t.Errorf("expected Name=transcript-insight, got %s", cfg.Name)
	}
	if cfg.LLM.Provider != ProviderOpenAI {
		t.Errorf("expected Provider=openai, got %s", cfg.LLM.Provider)
	}
	if cfg.Agent.MaxCycles != 5 {
		t.Errorf("expected MaxCycles=5, got %d", cfg.Agent.MaxCycles)
	}
	if cfg.Agent.MaxWorkers != 4 {
		t.Errorf("expected MaxWorkers=4, got %d", cfg.Agent.MaxWorkers)
	}
	if !cfg.Agent.AllowScan {
		t.Error("expected AllowScan=true")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "insight.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = ProviderGemini
	cfg.LLM.APIKey = "g-test"
	cfg.Agent.MaxCycles = 3

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != ProviderGemini {
		t.Errorf("expected Provider=gemini, got %s", loaded.LLM.Provider)
	}
	if loaded.LLM.APIKey != "g-test" {
		t.Errorf("expected APIKey=g-test, got %s", loaded.LLM.APIKey)
	}
	if loaded.Agent.MaxCycles != 3 {
		t.Errorf("expected MaxCycles=3, got %d", loaded.Agent.MaxCycles)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.UserID != "local" {
		t.Errorf("expected default user, got %s", cfg.Storage.UserID)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("llm: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetSandboxTimeout(); got != 60*time.Second {
		t.Errorf("expected 60s, got %v", got)
	}

	cfg.Sandbox.Timeout = "garbage"
	if got := cfg.GetSandboxTimeout(); got != 60*time.Second {
		t.Errorf("expected fallback 60s, got %v", got)
	}

	cfg.LLM.Timeout = "5s"
	if got := cfg.GetLLMTimeout(); got != 5*time.Second {
		t.Errorf("expected 5s, got %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without API key")
	}

	cfg.LLM.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.LLM.Provider = "anthropic"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid provider error")
	}

	cfg.LLM.Provider = ProviderOpenAI
	cfg.Agent.MaxWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected max_workers error")
	}
}

func TestConfig_ModelName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Model = ""
	cfg.LLM.Provider = ProviderGemini
	if got := cfg.ModelName(); got != DefaultModels[ProviderGemini] {
		t.Errorf("expected gemini default, got %s", got)
	}
}
