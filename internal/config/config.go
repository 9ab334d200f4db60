// Package config provides YAML-based configuration loading for Trellis.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Trellis configuration, loaded from trellis.yaml.
type Config struct {
	Organization string           `yaml:"organization"`
	Database     DatabaseConfig   `yaml:"database"`
	Notify       NotifyConfig     `yaml:"notify"`
	Digest       DigestConfig     `yaml:"digest"`
	Automation   AutomationConfig `yaml:"automation"`
	Types        []TypeConfig     `yaml:"types"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// NotifyConfig selects the outbound notification platform.
type NotifyConfig struct {
	Platform  string `yaml:"platform"` // "slack", "discord", or "" (log only)
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// DigestConfig schedules the due-date digest.
type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // 5-field cron expression
}

// AutomationConfig bounds auto-create and notification fan-out.
type AutomationConfig struct {
	Workers int `yaml:"workers"` // max concurrent sibling operations
}

// TypeConfig seeds a work item type with its fields and statuses.
type TypeConfig struct {
	Name     string         `yaml:"name"`
	Fields   []FieldConfig  `yaml:"fields"`
	Statuses []StatusConfig `yaml:"statuses"`
}

// FieldConfig seeds one custom field definition.
type FieldConfig struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // text, number, date, enum, boolean, user
	Required bool     `yaml:"required"`
	Options  []string `yaml:"options"`
}

// StatusConfig seeds one status on a type.
type StatusConfig struct {
	Name    string `yaml:"name"`
	Initial bool   `yaml:"initial"`
	Final   bool   `yaml:"final"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "trellis.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Database == "" && c.Organization != "" {
		c.Database.Database = "trellis_" + c.Organization
	}
	if c.Digest.Schedule == "" {
		c.Digest.Schedule = "0 9 * * *"
	}
	if c.Automation.Workers <= 0 {
		c.Automation.Workers = 4
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Organization == "" {
		errs = append(errs, "organization is required")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	switch c.Notify.Platform {
	case "", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not supported", c.Notify.Platform))
	}
	if c.Notify.Platform != "" && c.Notify.Token == "" {
		errs = append(errs, "notify.token is required when notify.platform is set")
	}
	for i, tc := range c.Types {
		if tc.Name == "" {
			errs = append(errs, fmt.Sprintf("types[%d].name is required", i))
		}
		for j, fc := range tc.Fields {
			if fc.Name == "" {
				errs = append(errs, fmt.Sprintf("types[%d].fields[%d].name is required", i, j))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
