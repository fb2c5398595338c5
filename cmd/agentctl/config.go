package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hireloop/agentcore/agentloop"
)

// Config is the agentctl configuration file schema.
type Config struct {
	Model    string `yaml:"model"`
	Provider string `yaml:"provider"`

	SystemPrompt string `yaml:"system_prompt"`

	Workdir string `yaml:"workdir"`

	Budgets struct {
		Planner int `yaml:"planner"`
		Repair  int `yaml:"repair"`
	} `yaml:"budgets"`

	Sandbox struct {
		AllowedPrefixes []string `yaml:"allowed_prefixes"`
	} `yaml:"sandbox"`

	LoopDetectionWindow int `yaml:"loop_detection_window"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadConfig reads the YAML config file at path, falling back to defaults
// when path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{
		Provider: "anthropic",
		Workdir:  ".",
	}
	cfg.Budgets.Planner = agentloop.DefaultPlannerBudget
	cfg.Budgets.Repair = agentloop.DefaultRepairBudget
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	return cfg
}
