package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

// Bootstrap resolves the initial configuration before the settings store is
// available: defaults, then an optional YAML file, then environment
// variables. Later sources win.
func Bootstrap(path string) (*domain.AppConfig, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *domain.AppConfig) {
	if v := os.Getenv("CONDUCTOR_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CONDUCTOR_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CONDUCTOR_LLM_MODEL"); v != "" {
		cfg.LLM.DefaultModel = v
	}
	if v := envInt("CONDUCTOR_MAX_ITERATIONS"); v > 0 {
		cfg.Agent.MaxIterations = v
	}
	if v := envInt("CONDUCTOR_MAX_TOOL_RETRIES"); v >= 0 {
		cfg.Agent.MaxToolRetries = v
	}
	if v := envInt("CONDUCTOR_HISTORY_WINDOW"); v > 0 {
		cfg.Agent.HistoryWindow = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
