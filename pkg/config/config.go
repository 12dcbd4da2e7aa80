// Package config provides configuration structures and loading logic for the
// template sandbox guard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-sandbox/pkg/domain"
	"github.com/polisai/polis-sandbox/pkg/whitelist"
)

const (
	defaultAdminAddress = ":19091"
	defaultServiceName  = "polis-sandbox"
	defaultBuffer       = 1024
	defaultRecent       = 256
)

var validate = validator.New()

// Config holds the global configuration.
type Config struct {
	TrustedRoot  string           `yaml:"trusted_root" validate:"required"`
	WorkingDir   string           `yaml:"working_dir"`
	Unresolvable UnresolvableMode `yaml:"unresolvable" validate:"oneof=open closed"`

	Whitelist   whitelist.Config  `yaml:"whitelist"`
	Policy      PolicyConfig      `yaml:"policy"`
	Admin       AdminConfig       `yaml:"admin"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// UnresolvableMode decides the fate of templates whose path cannot be
// canonicalized.
type UnresolvableMode string

const (
	// UnresolvableOpen renders unresolvable templates unrestricted.
	UnresolvableOpen UnresolvableMode = "open"
	// UnresolvableClosed sandboxes unresolvable templates.
	UnresolvableClosed UnresolvableMode = "closed"
)

// PolicyConfig configures the optional Rego override.
type PolicyConfig struct {
	Entrypoint string   `yaml:"entrypoint"`
	Modules    []string `yaml:"modules" validate:"dive,required"`
	CacheSize  int      `yaml:"cache_size"`
}

// Enabled reports whether any Rego module is configured.
func (c PolicyConfig) Enabled() bool {
	return len(c.Modules) > 0
}

// AdminConfig holds configuration for the admin HTTP server.
type AdminConfig struct {
	Address string `yaml:"address" validate:"required"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// DiagnosticsConfig sizes the decision record pipeline.
type DiagnosticsConfig struct {
	Buffer int `yaml:"buffer" validate:"gte=0"`
	Recent int `yaml:"recent" validate:"gte=0"`
}

// Default returns a configuration with every default applied and no trusted
// root.
func Default() *Config {
	return &Config{
		Unresolvable: UnresolvableOpen,
		Admin:        AdminConfig{Address: defaultAdminAddress},
		Telemetry:    TelemetryConfig{ServiceName: defaultServiceName},
		Logging:      LoggingConfig{Level: "info"},
		Diagnostics:  DiagnosticsConfig{Buffer: defaultBuffer, Recent: defaultRecent},
	}
}

// Load reads configuration from a file, applies environment variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Read is Load without validation, for callers that patch the result first.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.resolveRelative(filepath.Dir(path))
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// resolveRelative anchors policy module paths to the config file directory.
func (c *Config) resolveRelative(dir string) {
	for i, m := range c.Policy.Modules {
		if m != "" && !filepath.IsAbs(m) {
			c.Policy.Modules[i] = filepath.Join(dir, m)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SANDBOX_TRUSTED_ROOT"); val != "" {
		cfg.TrustedRoot = val
	}
	if val := os.Getenv("SANDBOX_UNRESOLVABLE"); val != "" {
		cfg.Unresolvable = UnresolvableMode(val)
	}
	if val := os.Getenv("SANDBOX_ADMIN_ADDR"); val != "" {
		cfg.Admin.Address = val
	}
	if val := os.Getenv("SANDBOX_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("SANDBOX_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("SANDBOX_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate normalizes defaults in place and checks the configuration.
func (c *Config) Validate() error {
	c.TrustedRoot = strings.TrimSpace(c.TrustedRoot)
	c.Unresolvable = UnresolvableMode(strings.ToLower(strings.TrimSpace(string(c.Unresolvable))))
	if c.Unresolvable == "" {
		c.Unresolvable = UnresolvableOpen
	}

	c.Policy.applyDefaults()
	c.Admin.applyDefaults()
	c.Telemetry.applyDefaults()
	c.Logging.applyDefaults()
	c.Diagnostics.applyDefaults()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}
	return nil
}

// FailClosed reports whether unresolvable paths are sandboxed.
func (c *Config) FailClosed() bool {
	return c.Unresolvable == UnresolvableClosed
}

func (c *PolicyConfig) applyDefaults() {
	c.Entrypoint = strings.Trim(strings.TrimSpace(c.Entrypoint), "/")
}

func (c *AdminConfig) applyDefaults() {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = defaultAdminAddress
	}
}

func (c *TelemetryConfig) applyDefaults() {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = defaultServiceName
	}
}

func (c *LoggingConfig) applyDefaults() {
	c.Level = strings.TrimSpace(strings.ToLower(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}
}

func (c *DiagnosticsConfig) applyDefaults() {
	if c.Buffer == 0 {
		c.Buffer = defaultBuffer
	}
	if c.Recent == 0 {
		c.Recent = defaultRecent
	}
}
