package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

type fakeSettingsRepo struct {
	mu       sync.Mutex
	settings map[string]string
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{settings: make(map[string]string)}
}

func (r *fakeSettingsRepo) GetSetting(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings[key], nil
}

func (r *fakeSettingsRepo) SaveSetting(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
	return nil
}

func (r *fakeSettingsRepo) raw(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings[key]
}

func testSecret(t *testing.T) *SecretKey {
	t.Helper()
	t.Setenv("CONDUCTOR_SECRET_KEY", "settings-store-test-key")
	sk, err := NewSecretKey()
	require.NoError(t, err)
	return sk
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSettingsStore_SeedsWhenEmpty(t *testing.T) {
	repo := newFakeSettingsRepo()
	seed := domain.DefaultConfig()
	seed.LLM.BaseURL = "https://api.example.com/v1"
	seed.LLM.APIKey = "sk-seed-key-1234"

	store, err := NewSettingsStore(quietLogger(), repo, testSecret(t), seed)
	require.NoError(t, err)

	cfg := store.GetConfig()
	assert.Equal(t, "https://api.example.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "sk-seed-key-1234", cfg.LLM.APIKey)

	// The key is encrypted at rest, never stored in plaintext.
	raw := repo.raw(settingsKey)
	assert.NotContains(t, raw, "sk-seed-key-1234")
	assert.Contains(t, raw, "enc:")
}

func TestSettingsStore_ReloadsFromDB(t *testing.T) {
	repo := newFakeSettingsRepo()
	secret := testSecret(t)

	seed := domain.DefaultConfig()
	seed.LLM.APIKey = "sk-persist-me-abcd"
	_, err := NewSettingsStore(quietLogger(), repo, secret, seed)
	require.NoError(t, err)

	// A second store over the same repo decrypts what the first one saved.
	reloaded, err := NewSettingsStore(quietLogger(), repo, secret, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-persist-me-abcd", reloaded.GetConfig().LLM.APIKey)
}

func TestSettingsStore_MaskedConfig(t *testing.T) {
	repo := newFakeSettingsRepo()
	seed := domain.DefaultConfig()
	seed.LLM.APIKey = "sk-abc123def"

	store, err := NewSettingsStore(quietLogger(), repo, testSecret(t), seed)
	require.NoError(t, err)

	masked := store.GetMaskedConfig()
	assert.Equal(t, "****3def", masked.LLM.APIKey)
	// Masking must not leak back into the live config.
	assert.Equal(t, "sk-abc123def", store.GetConfig().LLM.APIKey)
}

func TestSettingsStore_UpdatePreservesSecretOnMaskedValue(t *testing.T) {
	repo := newFakeSettingsRepo()
	seed := domain.DefaultConfig()
	seed.LLM.APIKey = "sk-original-key1"

	store, err := NewSettingsStore(quietLogger(), repo, testSecret(t), seed)
	require.NoError(t, err)

	// A client round-trips the masked config through PUT; the real key stays.
	update := store.GetMaskedConfig()
	update.LLM.DefaultModel = "gpt-4o"
	require.NoError(t, store.UpdateConfig(context.Background(), update))

	cfg := store.GetConfig()
	assert.Equal(t, "sk-original-key1", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.DefaultModel)
}

func TestSettingsStore_UpdateValidation(t *testing.T) {
	repo := newFakeSettingsRepo()
	store, err := NewSettingsStore(quietLogger(), repo, testSecret(t), nil)
	require.NoError(t, err)

	bad := store.GetConfig()
	bad.LLM.BaseURL = ""
	err = store.UpdateConfig(context.Background(), bad)
	assert.ErrorContains(t, err, "base_url")

	// Nonsense agent knobs are reset to defaults rather than rejected.
	odd := store.GetConfig()
	odd.Agent.MaxIterations = -5
	odd.Agent.MaxToolRetries = -1
	require.NoError(t, store.UpdateConfig(context.Background(), odd))
	cfg := store.GetConfig()
	assert.Equal(t, domain.DefaultConfig().Agent.MaxIterations, cfg.Agent.MaxIterations)
	assert.Equal(t, 0, cfg.Agent.MaxToolRetries)
}

func TestSettingsStore_OnChangeFires(t *testing.T) {
	repo := newFakeSettingsRepo()
	store, err := NewSettingsStore(quietLogger(), repo, testSecret(t), nil)
	require.NoError(t, err)

	var gotModel string
	store.OnChange(func(cfg *domain.AppConfig) {
		gotModel = cfg.LLM.DefaultModel
	})

	update := store.GetConfig()
	update.LLM.DefaultModel = "llama3.1"
	require.NoError(t, store.UpdateConfig(context.Background(), update))
	assert.Equal(t, "llama3.1", gotModel)
}

func TestBootstrap_DefaultsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/conductor.yaml"
	yamlBody := strings.Join([]string{
		"llm:",
		"  base_url: https://file.example.com/v1",
		"  default_model: file-model",
		"agent:",
		"  max_iterations: 7",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	t.Setenv("CONDUCTOR_LLM_MODEL", "env-model")
	t.Setenv("CONDUCTOR_HISTORY_WINDOW", "5")

	cfg, err := Bootstrap(path)
	require.NoError(t, err)

	// File overrides defaults; env overrides file.
	assert.Equal(t, "https://file.example.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "env-model", cfg.LLM.DefaultModel)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	assert.Equal(t, 5, cfg.Agent.HistoryWindow)
	// Untouched knobs keep their defaults.
	assert.Equal(t, domain.DefaultConfig().Agent.MaxToolRetries, cfg.Agent.MaxToolRetries)
}

func TestBootstrap_MissingFileErrors(t *testing.T) {
	_, err := Bootstrap("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestBootstrap_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Bootstrap("")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig().LLM.BaseURL, cfg.LLM.BaseURL)
}

func TestBootstrap_BadEnvIntIgnored(t *testing.T) {
	t.Setenv("CONDUCTOR_MAX_ITERATIONS", "not-a-number")
	cfg, err := Bootstrap("")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfig().Agent.MaxIterations, cfg.Agent.MaxIterations)
}
