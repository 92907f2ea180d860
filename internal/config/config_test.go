package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir, nil)

	cfg := &Config{
		Host:   "127.0.0.1",
		Port:   8080,
		APIKey: "test-key",
		Providers: []Provider{
			{Name: "openai", Dialect: "openai", APIKey: "test-provider-key"},
		},
	}

	err := manager.Save(cfg)
	require.NoError(t, err, "should be able to save config")
	assert.True(t, manager.Exists(), "config file should exist after saving")

	loadedCfg, err := manager.Load()
	require.NoError(t, err, "should be able to load config")

	assert.Equal(t, cfg.Host, loadedCfg.Host, "host should match")
	assert.Equal(t, cfg.Port, loadedCfg.Port, "port should match")
	assert.Equal(t, cfg.APIKey, loadedCfg.APIKey, "API key should match")

	require.Len(t, loadedCfg.Providers, 1, "should have 1 provider")

	provider := loadedCfg.Providers[0]
	assert.Equal(t, "openai", provider.Name, "provider name should match")
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", provider.BaseURL, "base url should default from dialect")
}

func TestConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir, nil)

	cfg := &Config{
		Providers: []Provider{
			{Name: "test", Dialect: "openai", BaseURL: "http://example.com", APIKey: "key"},
		},
	}

	err := manager.Save(cfg)
	require.NoError(t, err)

	loadedCfg, err := manager.Load()
	require.NoError(t, err, "should be able to load config")

	assert.Equal(t, DefaultPort, loadedCfg.Port, "should apply default port")
	assert.Equal(t, DefaultHost, loadedCfg.Host, "should apply default host")
}

func TestConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir, nil)

	configPath := filepath.Join(tmpDir, DefaultConfigFilename)
	os.WriteFile(configPath, []byte("invalid json"), 0644)

	_, err := manager.Load()
	assert.Error(t, err, "should get error when loading invalid JSON")
}

func TestConfig_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir, nil)

	_, err := manager.Load()
	assert.Error(t, err, "should get error when loading non-existent file")
	assert.False(t, manager.Exists(), "non-existent config should not exist")
}

func TestConfig_GetWithoutLoad(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir, nil)

	cfg := manager.Get()
	assert.NotNil(t, cfg, "should not return nil config")
	assert.Equal(t, DefaultPort, cfg.Port, "should return default port")
	assert.Equal(t, DefaultHost, cfg.Host, "should return default host")
}

func TestConfig_EnvOverridesWinOverFile(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir, nil)

	require.NoError(t, manager.Save(&Config{Host: "127.0.0.1", Port: 8080}))

	t.Setenv("TRANSLLM_HOST", "0.0.0.0")
	t.Setenv("TRANSLLM_PORT", "9999")
	t.Setenv("TRANSLLM_API_KEY", "env-key")

	cfg, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "env-key", cfg.APIKey)
}

func TestConfig_ProviderByDialect(t *testing.T) {
	cfg := &Config{Providers: []Provider{{Name: "anthropic-custom", Dialect: "anthropic"}}}

	p := cfg.ProviderByDialect("anthropic")
	require.NotNil(t, p)
	assert.Equal(t, "anthropic-custom", p.Name)

	assert.Nil(t, cfg.ProviderByDialect("gemini"))
}
