package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultModels maps a provider to the model used when none is configured.
var DefaultModels = map[string]string{
	ProviderOpenAI: "gpt-4.1-mini",
	ProviderGemini: "gemini-2.5-flash",
}

// Config holds all transcript-insight configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Agent loop bounds and scheduling
	Agent AgentConfig `yaml:"agent"`

	// Snippet execution
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Chart rendering
	Render RenderConfig `yaml:"render"`

	// Artifact and run storage
	Storage StorageConfig `yaml:"storage"`

	// serve command
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float32 `yaml:"temperature"`
}

// AgentConfig bounds the per-metric loops and the scheduler pool.
type AgentConfig struct {
	// Generate/execute cycles per sub-loop before giving up
	MaxCycles int `yaml:"max_cycles"`

	// Router turns per metric
	MaxRouterTurns int `yaml:"max_router_turns"`

	// Upper bound on concurrently running metrics
	MaxWorkers int `yaml:"max_workers"`

	// Register the first DataFrame global when a snippet saves nothing
	AllowScan bool `yaml:"allow_scan"`
}

// SandboxConfig configures the snippet interpreter.
type SandboxConfig struct {
	Timeout      string   `yaml:"timeout"`
	ExtraImports []string `yaml:"extra_imports"`
}

// RenderConfig configures chart output.
type RenderConfig struct {
	FontCandidates []string `yaml:"font_candidates"`
	WidthInches    float64  `yaml:"width_inches"`
	HeightInches   float64  `yaml:"height_inches"`
}

// StorageConfig locates artifacts and the run database.
type StorageConfig struct {
	WorkDir      string `yaml:"work_dir"`
	UserID       string `yaml:"user_id"`
	URLPrefix    string `yaml:"url_prefix"` // when set, report paths are URLs under it
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the metrics/progress server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level    string `yaml:"level"` // debug, info, warn, error
	Debug    bool   `yaml:"debug"` // also collects artifact schemas and samples
	RunFiles bool   `yaml:"run_files"`
}

// DefaultFontCandidates lists CJK-capable fonts checked before the built-in Liberation set.
var DefaultFontCandidates = []string{
	"/usr/share/fonts/truetype/nanum/NanumGothic.ttf",
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttc",
	"/Library/Fonts/NanumGothic.ttf",
	"/System/Library/Fonts/AppleSDGothicNeo.ttc",
	"C:\\Windows\\Fonts\\malgun.ttf",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "transcript-insight",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       DefaultModels[ProviderOpenAI],
			Timeout:     "120s",
			Temperature: 0,
		},
		Agent: AgentConfig{
			MaxCycles:      5,
			MaxRouterTurns: 8,
			MaxWorkers:     4,
			AllowScan:      true,
		},
		Sandbox: SandboxConfig{
			Timeout: "60s",
		},
		Render: RenderConfig{
			FontCandidates: append([]string(nil), DefaultFontCandidates...),
			WidthInches:    8,
			HeightInches:   5,
		},
		Storage: StorageConfig{
			WorkDir:      "data",
			UserID:       "local",
			DatabasePath: filepath.Join("data", "insight.db"),
		},
		Server: ServerConfig{
			Addr: ":8090",
		},
		Logging: LoggingConfig{
			Level:    "info",
			RunFiles: true,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// OpenAI is the default provider; Gemini only takes over when selected or when no key exists yet.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider != ProviderGemini {
		c.LLM.APIKey = key
		c.LLM.Provider = ProviderOpenAI
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && (c.LLM.Provider == ProviderGemini || c.LLM.APIKey == "") {
		c.LLM.APIKey = key
		c.LLM.Provider = ProviderGemini
	}
	if model := os.Getenv("INSIGHT_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if dir := os.Getenv("INSIGHT_WORK_DIR"); dir != "" {
		c.Storage.WorkDir = dir
	}
	if user := os.Getenv("INSIGHT_USER_ID"); user != "" {
		c.Storage.UserID = user
	}
	if url := os.Getenv("INSIGHT_URL"); url != "" {
		c.Storage.URLPrefix = url
	}
	if path := os.Getenv("INSIGHT_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
}

// ModelName returns the configured model or the provider default.
func (c *Config) ModelName() string {
	if c.LLM.Model != "" {
		return c.LLM.Model
	}
	return DefaultModels[c.LLM.Provider]
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSandboxTimeout returns the per-snippet execution timeout as a duration.
func (c *Config) GetSandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{ProviderOpenAI, ProviderGemini}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Agent.MaxCycles < 1 {
		return fmt.Errorf("agent.max_cycles must be positive, got %d", c.Agent.MaxCycles)
	}
	if c.Agent.MaxRouterTurns < 1 {
		return fmt.Errorf("agent.max_router_turns must be positive, got %d", c.Agent.MaxRouterTurns)
	}
	if c.Agent.MaxWorkers < 1 {
		return fmt.Errorf("agent.max_workers must be positive, got %d", c.Agent.MaxWorkers)
	}
	if c.Storage.WorkDir == "" {
		return fmt.Errorf("storage.work_dir not configured")
	}

	return nil
}
