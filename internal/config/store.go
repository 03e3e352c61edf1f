package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

// SettingsRepository is the minimal DB interface for settings persistence.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// OnChangeFunc is called when settings are updated.
type OnChangeFunc func(cfg *domain.AppConfig)

// SettingsStore manages persistent settings with encrypted secrets.
// Inspired by Gitea/Grafana settings architecture: config stored as JSON,
// secrets encrypted at rest, masked on read.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	secret   *SecretKey
	repo     SettingsRepository
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

const settingsKey = "app_config"

// NewSettingsStore creates a store that loads/saves settings from DB with
// AES-256-GCM encrypted secrets. seed supplies the initial config used when
// the DB has nothing saved yet (typically the bootstrap file/env config).
func NewSettingsStore(logger *slog.Logger, repo SettingsRepository, secret *SecretKey, seed *domain.AppConfig) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		secret: secret,
		repo:   repo,
	}

	ctx := context.Background()
	cfg, err := store.loadFromDB(ctx)
	if err != nil {
		logger.Warn("no saved settings found, seeding defaults", "error", err)
		if seed == nil {
			seed = domain.DefaultConfig()
		}
		cfg = seed
		if err := store.saveToDB(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to save initial config: %w", err)
		}
	}

	store.config = cfg
	return store, nil
}

// OnChange registers a callback for when settings are updated.
// Used by the kernel to hot-swap the model provider.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// GetConfig returns the current config with decrypted secrets.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.config
	return &cp
}

// GetMaskedConfig returns config safe for API response (secrets masked).
func (s *SettingsStore) GetMaskedConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.config
	cp.LLM.APIKey = MaskSecret(s.config.LLM.APIKey)
	return &cp
}

// UpdateConfig validates, encrypts secrets, persists, and triggers onChange
// callbacks. Smart merge: if apiKey is empty or masked, keeps existing key.
func (s *SettingsStore) UpdateConfig(ctx context.Context, update *domain.AppConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Merge: preserve existing secret if the update sends an empty/masked value
	if update.LLM.APIKey == "" || isMasked(update.LLM.APIKey) {
		update.LLM.APIKey = s.config.LLM.APIKey
	}

	if update.LLM.BaseURL == "" {
		return fmt.Errorf("llm base_url is required")
	}
	if update.Agent.MaxIterations <= 0 {
		update.Agent.MaxIterations = domain.DefaultConfig().Agent.MaxIterations
	}
	if update.Agent.MaxToolRetries < 0 {
		update.Agent.MaxToolRetries = 0
	}

	if err := s.saveToDB(ctx, update); err != nil {
		return err
	}

	s.config = update
	s.logger.Info("settings updated",
		"base_url", update.LLM.BaseURL,
		"model", update.LLM.DefaultModel,
		"max_iterations", update.Agent.MaxIterations,
	)

	for _, fn := range s.onChange {
		fn(update)
	}

	return nil
}

func (s *SettingsStore) loadFromDB(ctx context.Context) (*domain.AppConfig, error) {
	raw, err := s.repo.GetSetting(ctx, settingsKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("no settings stored")
	}

	var stored storedConfig
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	cfg := &domain.AppConfig{
		LLM: domain.LLMProviderConfig{
			BaseURL:      stored.LLM.BaseURL,
			DefaultModel: stored.LLM.DefaultModel,
		},
		Agent: stored.Agent,
	}

	if stored.LLM.EncryptedAPIKey != "" {
		key, err := s.secret.Decrypt(stored.LLM.EncryptedAPIKey)
		if err != nil {
			s.logger.Warn("failed to decrypt LLM API key", "error", err)
		} else {
			cfg.LLM.APIKey = key
		}
	}

	return cfg, nil
}

func (s *SettingsStore) saveToDB(ctx context.Context, cfg *domain.AppConfig) error {
	stored := storedConfig{
		LLM: storedLLMConfig{
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
		},
		Agent: cfg.Agent,
	}

	if cfg.LLM.APIKey != "" {
		enc, err := s.secret.Encrypt(cfg.LLM.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt LLM API key: %w", err)
		}
		stored.LLM.EncryptedAPIKey = enc
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	return s.repo.SaveSetting(ctx, settingsKey, string(raw))
}

// storedConfig is the DB representation with encrypted fields
type storedConfig struct {
	LLM   storedLLMConfig    `json:"llm"`
	Agent domain.AgentConfig `json:"agent"`
}

type storedLLMConfig struct {
	BaseURL         string `json:"base_url"`
	EncryptedAPIKey string `json:"encrypted_api_key,omitempty"`
	DefaultModel    string `json:"default_model"`
}
