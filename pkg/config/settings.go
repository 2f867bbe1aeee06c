package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/automation/pkg/script"
	"github.com/openfroyo/automation/pkg/telemetry"
)

// Settings configures the automation CLI and runtime.
type Settings struct {
	// Tenant is used for runs that do not name one.
	Tenant string `yaml:"tenant"`

	// Releases lists the directories or files compiled into the default release.
	Releases []string `yaml:"releases"`

	// Policies lists rego files evaluated as lint rules at release compile.
	Policies []string `yaml:"policies"`

	Store     StoreSettings     `yaml:"store"`
	Runner    RunnerSettings    `yaml:"runner"`
	HTTP      HTTPSettings      `yaml:"http"`
	Watch     WatchSettings     `yaml:"watch"`
	Script    script.Config     `yaml:"script"`
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// StoreSettings configures the SQLite store.
type StoreSettings struct {
	Path string `yaml:"path" validate:"required"`
}

// RunnerSettings bounds concurrent evaluation.
type RunnerSettings struct {
	Workers   int `yaml:"workers" validate:"min=1,max=256"`
	QueueSize int `yaml:"queueSize" validate:"min=0"`
}

// HTTPSettings configures the client behind httpGet providers.
type HTTPSettings struct {
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// WatchSettings configures release reloads.
type WatchSettings struct {
	Debounce time.Duration `yaml:"debounce" validate:"min=0"`
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	return &Settings{
		Tenant:    "default",
		Store:     StoreSettings{Path: "automation.db"},
		Runner:    RunnerSettings{Workers: 4, QueueSize: 64},
		HTTP:      HTTPSettings{Timeout: 10 * time.Second},
		Watch:     WatchSettings{Debounce: 250 * time.Millisecond},
		Script:    script.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadSettings reads a YAML settings file over the defaults. An empty path
// returns the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, s.Validate()
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Validate checks field constraints and the telemetry configuration.
func (s *Settings) Validate() error {
	if err := NewValidator().Struct(s); err != nil {
		return err
	}
	if s.Telemetry == nil {
		return errors.New("telemetry settings are required")
	}
	return s.Telemetry.Validate()
}
