// Package config loads the project configuration file: strict JSON with
// ${VAR} environment substitution. A missing variable fails loading rather
// than producing an empty value.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Config is the on-disk project definition.
type Config struct {
	ID          models.ProjectID   `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Environment models.Environment `json:"environment"`
	Owner       string             `json:"owner"`
	Tags        []string           `json:"tags,omitempty"`
	AgentConfig models.AgentConfig `json:"agentConfig"`
}

// Project converts the config into the runtime Project it describes.
func (c Config) Project() models.Project {
	return models.Project{
		ID:          c.ID,
		Name:        c.Name,
		Environment: c.Environment,
		Owner:       c.Owner,
		Tags:        c.Tags,
		Config:      c.AgentConfig,
		Status:      models.ProjectActive,
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nexuserr.Wrap(nexuserr.CodeConfig, "read config file", err)
	}
	return Parse(data)
}

// Parse decodes config bytes. Unknown fields are rejected so typos surface
// at load time instead of as silently-defaulted behavior.
func Parse(data []byte) (Config, error) {
	expanded, err := substituteEnv(data)
	if err != nil {
		return Config{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(expanded))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, nexuserr.Wrap(nexuserr.CodeConfig, "parse config", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, nexuserr.New(nexuserr.CodeConfig, "config has trailing content")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ID == "" {
		return nexuserr.New(nexuserr.CodeConfig, "config id is required")
	}
	if c.Name == "" {
		return nexuserr.New(nexuserr.CodeConfig, "config name is required")
	}
	switch c.Environment {
	case models.EnvProduction, models.EnvStaging, models.EnvDevelopment:
	default:
		return nexuserr.Newf(nexuserr.CodeConfig, "unknown environment %q", c.Environment)
	}
	if c.Owner == "" {
		return nexuserr.New(nexuserr.CodeConfig, "config owner is required")
	}
	if c.AgentConfig.ProjectID != c.ID {
		return nexuserr.Newf(nexuserr.CodeConfig,
			"agentConfig.projectId %q does not match config id %q", c.AgentConfig.ProjectID, c.ID)
	}
	if c.AgentConfig.Primary.Model == "" {
		return nexuserr.New(nexuserr.CodeConfig, "primary provider model is required")
	}
	switch c.AgentConfig.Primary.Kind {
	case models.ProviderAnthropic, models.ProviderOpenAI:
	default:
		return nexuserr.Newf(nexuserr.CodeConfig, "unknown provider kind %q", c.AgentConfig.Primary.Kind)
	}
	if c.AgentConfig.Primary.APIKeyEnv == "" {
		return nexuserr.New(nexuserr.CodeConfig, "primary provider api_key_env is required")
	}
	if fb := c.AgentConfig.Fallback; fb != nil {
		switch fb.Kind {
		case models.ProviderAnthropic, models.ProviderOpenAI:
		default:
			return nexuserr.Newf(nexuserr.CodeConfig, "unknown fallback provider kind %q", fb.Kind)
		}
		if fb.Model == "" || fb.APIKeyEnv == "" {
			return nexuserr.New(nexuserr.CodeConfig, "fallback provider needs model and api_key_env")
		}
	}
	return nil
}

// substituteEnv replaces ${VAR} occurrences with process environment
// values. Every referenced variable must be set.
func substituteEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envVarPattern.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, nexuserr.Newf(nexuserr.CodeConfig,
			"unset environment variable(s) in config: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
