// Package config loads the taskloop command configuration from YAML.
//
// Values may reference environment variables with ${NAME}; they are expanded
// before decoding so secrets such as API keys stay out of the file:
//
//	model:
//	  provider: anthropic
//	  model: claude-sonnet-4-5
//	  api_key: ${ANTHROPIC_API_KEY}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultAgentName         = "taskloop"
	DefaultMaxIterations     = 50
	DefaultMaxRepeats        = 2
	DefaultOverflowThreshold = 100
	DefaultOracleAttempts    = 3
	DefaultMaxTokens         = 4096
	DefaultOverflowPrefix    = "taskloop:overflow:"
	DefaultMongoDatabase     = "taskloop"
	DefaultMongoCollection   = "runlog"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderGemini    = "gemini"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendNone   = "none"
)

// Log formats.
const (
	FormatAuto     = "auto"
	FormatJSON     = "json"
	FormatTerminal = "terminal"
)

type (
	// Config is the root configuration document.
	Config struct {
		Agent    Agent    `yaml:"agent"`
		Model    Model    `yaml:"model"`
		Overflow Overflow `yaml:"overflow"`
		RunLog   RunLog   `yaml:"runlog"`
		Log      Log      `yaml:"log"`
	}

	// Agent configures the orchestration loop.
	Agent struct {
		Name              string   `yaml:"name"`
		Persona           string   `yaml:"persona"`
		Description       string   `yaml:"description"`
		MaxIterations     int      `yaml:"max_iterations"`
		MaxRepeats        int      `yaml:"max_repeats"`
		OverflowThreshold int      `yaml:"overflow_threshold"`
		OracleAttempts    int      `yaml:"oracle_attempts"`
		Goals             bool     `yaml:"goals"`
		ReplanOnFailure   bool     `yaml:"replan_on_failure"`
		Tags              []string `yaml:"tags"`
		Tools             []string `yaml:"tools"`
		Terminal          string   `yaml:"terminal"`
		// Workdir is exposed to capabilities as the "workdir" property.
		Workdir string `yaml:"workdir"`
	}

	// Model configures the reasoning model provider.
	Model struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		APIKey      string  `yaml:"api_key"`
		BaseURL     string  `yaml:"base_url"`
		Region      string  `yaml:"region"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
		// TokensPerMinute enables adaptive rate limiting when positive.
		TokensPerMinute float64 `yaml:"tokens_per_minute"`
	}

	// Overflow configures where oversized results are stored.
	Overflow struct {
		Backend  string        `yaml:"backend"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	}

	// RunLog configures the durable run log.
	RunLog struct {
		Backend    string `yaml:"backend"`
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	}

	// Log configures logging.
	Log struct {
		Format string `yaml:"format"`
		Debug  bool   `yaml:"debug"`
	}
)

// Load reads, expands, and decodes the file at path, then applies defaults
// and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document from r. Unknown fields are
// rejected. An empty document yields the defaults.
func Parse(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(b))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills in defaults and canonicalizes enumerations.
func (c *Config) Normalize() {
	a := &c.Agent
	if a.Name == "" {
		a.Name = DefaultAgentName
	}
	if a.MaxIterations <= 0 {
		a.MaxIterations = DefaultMaxIterations
	}
	if a.MaxRepeats <= 0 {
		a.MaxRepeats = DefaultMaxRepeats
	}
	if a.OverflowThreshold <= 0 {
		a.OverflowThreshold = DefaultOverflowThreshold
	}
	if a.OracleAttempts <= 0 {
		a.OracleAttempts = DefaultOracleAttempts
	}

	m := &c.Model
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.MaxTokens <= 0 {
		m.MaxTokens = DefaultMaxTokens
	}

	o := &c.Overflow
	o.Backend = lowerOr(o.Backend, BackendMemory)
	if o.Prefix == "" {
		o.Prefix = DefaultOverflowPrefix
	}

	l := &c.RunLog
	l.Backend = lowerOr(l.Backend, BackendMemory)
	if l.Database == "" {
		l.Database = DefaultMongoDatabase
	}
	if l.Collection == "" {
		l.Collection = DefaultMongoCollection
	}

	c.Log.Format = lowerOr(c.Log.Format, FormatAuto)
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		if c.Model.APIKey == "" {
			errs = append(errs, fmt.Errorf("model.api_key is required for provider %q", c.Model.Provider))
		}
	case ProviderBedrock:
	case "":
		errs = append(errs, errors.New("model.provider is required"))
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not one of openai, anthropic, bedrock, gemini", c.Model.Provider))
	}
	if c.Model.Model == "" {
		errs = append(errs, errors.New("model.model is required"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature %v is out of range [0, 2]", c.Model.Temperature))
	}
	if c.Model.TokensPerMinute < 0 {
		errs = append(errs, errors.New("model.tokens_per_minute must not be negative"))
	}
	switch c.Overflow.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Overflow.Addr == "" {
			errs = append(errs, errors.New("overflow.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("overflow.backend %q is not one of memory, redis", c.Overflow.Backend))
	}
	if c.Overflow.TTL < 0 {
		errs = append(errs, errors.New("overflow.ttl must not be negative"))
	}
	switch c.RunLog.Backend {
	case BackendMemory, BackendNone:
	case BackendMongo:
		if c.RunLog.URI == "" {
			errs = append(errs, errors.New("runlog.uri is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("runlog.backend %q is not one of memory, mongo, none", c.RunLog.Backend))
	}
	switch c.Log.Format {
	case FormatAuto, FormatJSON, FormatTerminal:
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of auto, json, terminal", c.Log.Format))
	}
	return errors.Join(errs...)
}

func lowerOr(s, def string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}
