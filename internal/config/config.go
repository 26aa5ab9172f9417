package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models lexline.yml.
type Config struct {
	AI struct {
		Mode           string   `yaml:"mode"`
		BaseURL        string   `yaml:"base_url"`
		Model          string   `yaml:"model"`
		Models         []string `yaml:"models"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"ai"`
	Credits struct {
		DefaultPlan           string           `yaml:"default_plan"`
		Plans                 map[string]int64 `yaml:"plans"`
		ReservationTTLMinutes int              `yaml:"reservation_ttl_minutes"`
	} `yaml:"credits"`
	Generation struct {
		LogBuffer int `yaml:"log_buffer"`
	} `yaml:"generation"`
}

// ReservationTTL returns the reservation expiry window. Abandoned
// sessions release their hold after this much time.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.Credits.ReservationTTLMinutes) * time.Minute
}

// AITimeout returns the per-call deadline for the AI backend.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

// PlanAllowance returns the monthly credit allowance for a plan.
// -1 means unlimited.
func (c *Config) PlanAllowance(plan string) (int64, bool) {
	v, ok := c.Credits.Plans[plan]
	return v, ok
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run lx init or pass --config", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.AI.Mode {
	case "scripted", "http":
	default:
		return fmt.Errorf("config.ai.mode must be 'scripted' or 'http'")
	}
	if c.AI.Mode == "http" && c.AI.BaseURL == "" {
		return fmt.Errorf("config.ai.base_url is required for mode http")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("config.ai.model is required")
	}
	if c.AI.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.ai.timeout_seconds must be positive")
	}
	if len(c.Credits.Plans) == 0 {
		return fmt.Errorf("config.credits.plans is required")
	}
	for name, allowance := range c.Credits.Plans {
		if name == "" {
			return fmt.Errorf("config.credits.plans contains empty plan name")
		}
		if allowance < -1 {
			return fmt.Errorf("plan %s has invalid allowance %d", name, allowance)
		}
	}
	if c.Credits.DefaultPlan == "" {
		return fmt.Errorf("config.credits.default_plan is required")
	}
	if _, ok := c.Credits.Plans[c.Credits.DefaultPlan]; !ok {
		return fmt.Errorf("default plan %s not defined", c.Credits.DefaultPlan)
	}
	if c.Credits.ReservationTTLMinutes <= 0 {
		return fmt.Errorf("config.credits.reservation_ttl_minutes must be positive")
	}
	if c.Generation.LogBuffer <= 0 {
		return fmt.Errorf("config.generation.log_buffer must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "lexline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `ai:
  mode: scripted
  model: draft-std-1
  models:
    - draft-std-1
    - draft-pro-1
  timeout_seconds: 120

credits:
  default_plan: starter
  plans:
    starter: 10
    professional: 50
    firm: -1
  reservation_ttl_minutes: 15

generation:
  log_buffer: 64
`
