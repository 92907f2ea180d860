package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"
)

// DefaultDialectBaseURLs are the upstream endpoints each dialect's adapter
// targets when a provider entry doesn't override BaseURL.
var DefaultDialectBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1/chat/completions",
	"anthropic": "https://api.anthropic.com/v1/messages",
	"gemini":    "https://generativelanguage.googleapis.com/v1beta/models",
}

// DefaultDialectModels advertises a representative model list per dialect
// for GET /v1/models when a provider entry doesn't list its own. These are
// informational only; the proxy never validates a requested model against
// them.
var DefaultDialectModels = map[string][]string{
	"openai":    {"gpt-4o", "gpt-4-turbo", "gpt-4o-mini"},
	"anthropic": {"claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "claude-3-haiku-20240307"},
	"gemini":    {"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
}

// Provider configures one upstream dialect endpoint: which wire format it
// speaks (Dialect, one of openai/anthropic/gemini) and where/how to reach it.
type Provider struct {
	Name    string   `json:"name" yaml:"name"`
	Dialect string   `json:"dialect" yaml:"dialect"`
	BaseURL string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey  string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Models  []string `json:"models,omitempty" yaml:"models,omitempty"`
}

// ListModels returns p.Models if set, otherwise the dialect's default list.
func (p *Provider) ListModels() []string {
	if len(p.Models) > 0 {
		return p.Models
	}

	return DefaultDialectModels[p.Dialect]
}

// Config is the on-disk proxy configuration: which host/port to bind, an
// optional API key protecting the proxy itself, and the set of upstream
// dialect providers clients may target.
type Config struct {
	Host      string     `json:"host,omitempty" yaml:"host,omitempty"`
	Port      int        `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey    string     `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Providers []Provider `json:"providers" yaml:"providers"`
}

// Manager loads, watches, and caches Config. Reads go through an
// atomic.Value so concurrent handlers never block on a mutex and never
// observe a partially-written Config.
type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
	logger      *slog.Logger
	watcher     *fsnotify.Watcher
}

func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
		logger:   logger,
	}
}

// createMinimalConfig builds a config with one provider per known dialect,
// all keyed off TRANSLLM_API_KEY, for the case where no config file exists
// but the environment supplies enough to run.
func (m *Manager) createMinimalConfig() Config {
	return Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Providers: []Provider{
			{Name: "openai", Dialect: "openai"},
			{Name: "anthropic", Dialect: "anthropic"},
			{Name: "gemini", Dialect: "gemini"},
		},
	}
}

func (m *Manager) Load() (*Config, error) {
	var cfg Config
	var err error

	apiKey := os.Getenv("TRANSLLM_API_KEY")

	switch {
	case fileExists(m.yamlPath):
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	case fileExists(m.jsonPath):
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	case apiKey != "":
		cfg = m.createMinimalConfig()
	default:
		return nil, fmt.Errorf("no configuration file found (looked for %s or %s) and TRANSLLM_API_KEY environment variable not set", m.yamlPath, m.jsonPath)
	}

	m.applyEnvOverrides(&cfg, apiKey)
	m.applyDefaults(&cfg)

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (m *Manager) loadYAML() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}

	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets TRANSLLM_HOST/TRANSLLM_PORT win over whatever the
// config file says. TRANSLLM_API_KEY only fills in an empty top-level API key
// and empty provider API keys; keys set in the file are kept.
func (m *Manager) applyEnvOverrides(cfg *Config, apiKey string) {
	if host := os.Getenv("TRANSLLM_HOST"); host != "" {
		cfg.Host = host
	}

	if portStr := os.Getenv("TRANSLLM_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if apiKey != "" && cfg.APIKey == "" {
		cfg.APIKey = apiKey
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].APIKey == "" && apiKey != "" {
			cfg.Providers[i].APIKey = apiKey
		}
	}
}

func (m *Manager) applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]

		if p.Dialect == "" {
			p.Dialect = p.Name
		}

		if p.BaseURL == "" {
			if def, ok := DefaultDialectBaseURLs[p.Dialect]; ok {
				p.BaseURL = def
			}
		}
	}
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{Host: DefaultHost, Port: DefaultPort}
	}

	return cfg
}

// ProviderByDialect returns the first configured provider speaking dialect,
// or nil if none is configured.
func (c *Config) ProviderByDialect(dialect string) *Provider {
	for i := range c.Providers {
		if c.Providers[i].Dialect == dialect {
			return &c.Providers[i]
		}
	}

	return nil
}

func (m *Manager) Save(cfg *Config) error {
	return m.SaveAsYAML(cfg)
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}

	if err := os.WriteFile(m.yamlPath, data, 0644); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) SaveAsJSON(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}

	if err := os.WriteFile(m.jsonPath, data, 0644); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	if fileExists(m.yamlPath) {
		return m.yamlPath
	}

	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string { return m.yamlPath }
func (m *Manager) GetJSONPath() string { return m.jsonPath }

func (m *Manager) Exists() bool {
	return fileExists(m.yamlPath) || fileExists(m.jsonPath)
}

func (m *Manager) HasYAML() bool { return fileExists(m.yamlPath) }
func (m *Manager) HasJSON() bool { return fileExists(m.jsonPath) }

// CreateExampleYAML writes a starter config naming all three dialects.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:   DefaultHost,
		Port:   DefaultPort,
		APIKey: "your-proxy-api-key-here",
		Providers: []Provider{
			{Name: "openai", Dialect: "openai", APIKey: "your-openai-api-key"},
			{Name: "anthropic", Dialect: "anthropic", APIKey: "your-anthropic-api-key"},
			{Name: "gemini", Dialect: "gemini", APIKey: "your-gemini-api-key"},
		},
	}

	m.applyDefaults(cfg)

	return m.SaveAsYAML(cfg)
}

// Watch starts watching the active config file for writes and calls onChange
// with the freshly reloaded Config after each one. The returned stop func
// closes the underlying watcher; callers should defer it.
func (m *Manager) Watch(onChange func(*Config)) (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	path := m.GetPath()
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	m.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}

				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				cfg, err := m.Load()
				if err != nil {
					m.logger.Warn("config reload failed", "error", err)
					continue
				}

				m.logger.Info("config reloaded", "path", path)
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}

				m.logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return w.Close, nil
}
