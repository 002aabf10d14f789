package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Storage     StorageConfig   `toml:"storage"`
	Retrieval   RetrievalConfig `toml:"retrieval"`
	Evaluator   EvaluatorConfig `toml:"evaluator"`
	Synthesis   SynthesisConfig `toml:"synthesis"`
	Engine      EngineConfig    `toml:"engine"`
	LLM         LLMConfig       `toml:"llm"`
	Taxonomy    TaxonomyConfig  `toml:"taxonomy"`
	Sections    SectionsConfig  `toml:"sections"`
	Logging     LoggingConfig   `toml:"logging"`
	PDF         PDFConfig       `toml:"pdf"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// RetrievalConfig contains retrieval engine tunables
type RetrievalConfig struct {
	TopK                int     `toml:"top_k" validate:"gte=1,lte=50"`        // Results per retrieval call
	CandidateMultiplier int     `toml:"candidate_multiplier" validate:"gte=1"` // Candidate pool = top_k * multiplier (MMR)
	MMRLambda           float64 `toml:"mmr_lambda" validate:"gte=0,lte=1"`    // Relevance/diversity trade-off
	RRFConstant         int     `toml:"rrf_constant" validate:"gte=1"`        // Rank-fusion constant for hybrid mode
}

// EvaluatorConfig contains findings evaluator tunables
type EvaluatorConfig struct {
	EvidenceBudgetChars int     `toml:"evidence_budget_chars" validate:"gte=500"` // Cap on packaged evidence text
	MetThreshold        float64 `toml:"met_threshold" validate:"gte=0,lte=1"`     // Mean top-score at or above which a control is met
	PartialThreshold    float64 `toml:"partial_threshold" validate:"gte=0,lte=1"` // Floor below which evidence is insufficient
	Concurrency         int     `toml:"concurrency" validate:"gte=1,lte=64"`      // Concurrent control evaluations per run
	RatePerSecond       int     `toml:"rate_per_second" validate:"gte=1"`         // Retrieval/LLM call budget per second
}

// SynthesisConfig contains narrative synthesizer tunables
type SynthesisConfig struct {
	MaxFindingsPerSection int `toml:"max_findings_per_section" validate:"gte=1"` // Findings rendered into one section prompt
	MemorySummaryChars    int `toml:"memory_summary_chars" validate:"gte=0"`     // Rolling narrative memory cap
	MemoryPointsLimit     int `toml:"memory_points_limit" validate:"gte=0"`      // Key points carried between sections
}

// EngineConfig contains run orchestrator behavior
type EngineConfig struct {
	// FailOnSectionError controls stream end.ok when individual sections fail.
	// Default false: section failures degrade to placeholders and the run
	// still reports overall success.
	FailOnSectionError bool   `toml:"fail_on_section_error"`
	EventBuffer        int    `toml:"event_buffer" validate:"gte=1"` // Stream channel capacity
	RunTimeout         string `toml:"run_timeout"`                   // e.g. "20m", empty = no overall deadline
}

// LLMConfig contains generative backend configuration
type LLMConfig struct {
	DefaultProvider string       `toml:"default_provider" validate:"omitempty,oneof=gemini claude"`
	Gemini          GeminiConfig `toml:"gemini"`
	Claude          ClaudeConfig `toml:"claude"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// TaxonomyConfig points at framework taxonomy definition files
type TaxonomyConfig struct {
	Dir string `toml:"dir"` // Directory containing <framework>.yaml taxonomy files
}

// SectionsConfig points at section definition seed files
type SectionsConfig struct {
	SeedDir string `toml:"seed_dir"` // Directory containing <framework>.yaml section files
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// PDFConfig contains report export configuration
type PDFConfig struct {
	OutputDir string `toml:"output_dir"` // Directory for rendered report PDFs
}

// NewDefaultConfig returns a Config populated with defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/attestor",
				ResetOnStartup: false,
			},
		},
		Retrieval: RetrievalConfig{
			TopK:                6,
			CandidateMultiplier: 4,
			MMRLambda:           0.5,
			RRFConstant:         60,
		},
		Evaluator: EvaluatorConfig{
			EvidenceBudgetChars: 6000,
			MetThreshold:        0.72,
			PartialThreshold:    0.40,
			Concurrency:         4,
			RatePerSecond:       8,
		},
		Synthesis: SynthesisConfig{
			MaxFindingsPerSection: 20,
			MemorySummaryChars:    2100,
			MemoryPointsLimit:     12,
		},
		Engine: EngineConfig{
			FailOnSectionError: false,
			EventBuffer:        32,
			RunTimeout:         "",
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			Gemini: GeminiConfig{
				Model:       "gemini-2.5-flash",
				Timeout:     "120s",
				Temperature: 0.3,
				MaxTokens:   4096,
			},
			Claude: ClaudeConfig{
				Model:       "claude-sonnet-4-20250514",
				Timeout:     "120s",
				Temperature: 0.3,
				MaxTokens:   4096,
			},
		},
		Taxonomy: TaxonomyConfig{
			Dir: "./taxonomies",
		},
		Sections: SectionsConfig{
			SeedDir: "./sections",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		PDF: PDFConfig{
			OutputDir: "./data/reports",
		},
	}
}

// LoadFromFile loads configuration from a single TOML file over defaults
func LoadFromFile(path string) (*Config, error) {
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration by layering TOML files over defaults,
// later files overriding earlier ones, then applies environment overrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies ATTESTOR_* environment variables over file values
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("ATTESTOR_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("ATTESTOR_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("ATTESTOR_LLM_PROVIDER"); v != "" {
		config.LLM.DefaultProvider = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.LLM.Gemini.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.LLM.Claude.APIKey = v
	}
	if v := os.Getenv("ATTESTOR_EVAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Evaluator.Concurrency = n
		}
	}
}

// Validate checks structural constraints on the configuration
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Evaluator.PartialThreshold > c.Evaluator.MetThreshold {
		return fmt.Errorf("evaluator partial_threshold %.2f exceeds met_threshold %.2f",
			c.Evaluator.PartialThreshold, c.Evaluator.MetThreshold)
	}

	if c.Engine.RunTimeout != "" {
		if _, err := time.ParseDuration(c.Engine.RunTimeout); err != nil {
			return fmt.Errorf("invalid engine run_timeout %q: %w", c.Engine.RunTimeout, err)
		}
	}
	for name, d := range map[string]string{
		"llm.gemini.timeout": c.LLM.Gemini.Timeout,
		"llm.claude.timeout": c.LLM.Claude.Timeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, d, err)
		}
	}

	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
