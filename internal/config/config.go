package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gateline.yml.
type Config struct {
	Client struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"client"`
	Impact struct {
		// Unlocking more than this many entities in one change request
		// escalates the computed risk one step. Zero disables the rule.
		EscalationThreshold int `yaml:"escalation_threshold"`
	} `yaml:"impact"`
	Insights struct {
		// FIT-rate shifts below this many percentage points read as
		// "no material change".
		MaterialChangePoints float64 `yaml:"material_change_points"`
	} `yaml:"insights"`
	Signoff struct {
		// Capture a snapshot automatically when a sign-off reaches
		// completed.
		SnapshotOnCompletion bool `yaml:"snapshot_on_completion"`
		// Bounded retries for transient datastore conflicts.
		ConflictRetries int `yaml:"conflict_retries"`
	} `yaml:"signoff"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gl client config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Client.ID == "" {
		return fmt.Errorf("config.client.id is required")
	}
	if c.Impact.EscalationThreshold < 0 {
		return fmt.Errorf("config.impact.escalation_threshold must not be negative")
	}
	if c.Insights.MaterialChangePoints < 0 {
		return fmt.Errorf("config.insights.material_change_points must not be negative")
	}
	if c.Signoff.ConflictRetries < 0 || c.Signoff.ConflictRetries > 10 {
		return fmt.Errorf("config.signoff.conflict_retries must be between 0 and 10")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gateline.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a client.
func Default(clientID string) *Config {
	var cfg Config
	cfg.Client.ID = clientID
	cfg.Impact.EscalationThreshold = 10
	cfg.Insights.MaterialChangePoints = 1.0
	cfg.Signoff.SnapshotOnCompletion = true
	cfg.Signoff.ConflictRetries = 3
	return &cfg
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

// GenerateDefault returns default config YAML for a client.
func GenerateDefault(clientID string) string {
	cfg := Default(clientID)
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return ""
	}
	return string(out)
}
