// Package config loads the conductor's JSON runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// ProcessConfig defines how to launch an external helper process.
type ProcessConfig struct {
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	TimeoutSec int      `json:"timeout_sec"`
}

// Config holds the conductor's runtime configuration.
type Config struct {
	DBPath              string        `json:"db_path"`
	Workspace           string        `json:"workspace"`
	ListenAddr          string        `json:"listen_addr"`
	Judge               ProcessConfig `json:"judge"`
	Agent               ProcessConfig `json:"agent"`
	WorkerTemplate      string        `json:"worker_template"`
	ReadinessProbeCmd   string        `json:"readiness_probe_cmd"`
	OperatorAddr        string        `json:"operator_addr"`
	MaxRetries          int           `json:"max_retries"`
	SpawnTries          int           `json:"spawn_tries"`
	ProvisionTimeoutSec int           `json:"provision_timeout_sec"`
	RetentionMinutes    int           `json:"retention_minutes"`
	JanitorIntervalSec  int           `json:"janitor_interval_sec"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.OperatorAddr == "" {
		c.OperatorAddr = "operator@localhost"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.SpawnTries == 0 {
		c.SpawnTries = 3
	}
	if c.ProvisionTimeoutSec == 0 {
		c.ProvisionTimeoutSec = 60
	}
	if c.RetentionMinutes == 0 {
		c.RetentionMinutes = 15
	}
	if c.JanitorIntervalSec == 0 {
		c.JanitorIntervalSec = 30
	}
	if c.Judge.TimeoutSec == 0 {
		c.Judge.TimeoutSec = 120
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.Workspace == "" {
		problems = append(problems, "workspace is required")
	}
	if c.Judge.Command == "" {
		problems = append(problems, "judge.command is required")
	}
	if c.Agent.Command == "" {
		problems = append(problems, "agent.command is required")
	}

	if len(problems) > 0 {
		return &domain.ConductorError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
