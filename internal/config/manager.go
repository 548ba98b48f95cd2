package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/dealancer/validate.v2"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/PlanarView/internal/logger"
)

const (
	appName        = "planarview"
	configFileName = "config.yaml"
)

// ErrUnknownKey is returned by Set and Get for keys that do not exist
var ErrUnknownKey = errors.New("config: unknown key")

var userHomeDir = os.UserHomeDir

// Manager loads, validates and persists the configuration
type Manager struct {
	fs         afero.Fs
	configPath string
	v          *viper.Viper
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/planarview/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appName, configFileName), nil
}

// NewManager loads configFile (or the default path) from the OS filesystem
func NewManager(configFile string) (*Manager, error) {
	return NewManagerFs(afero.NewOsFs(), configFile)
}

// NewManagerFs loads configuration from fs, creating the file with
// defaults when it does not exist yet
func NewManagerFs(fs afero.Fs, configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := setDefaults(v, Defaults()); err != nil {
		return nil, err
	}

	m := &Manager{fs: fs, configPath: path, v: v}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}
	if !exists {
		logger.WithComponent("config").Info().
			Str("path", path).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return m, nil
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	logger.WithComponent("config").Info().
		Str("path", path).
		Str("source", cfg.Source.Kind).
		Str("render_mode", cfg.Render.Mode).
		Msg("Config loaded")
	return m, nil
}

// setDefaults registers every leaf of d as a viper default
func setDefaults(v *viper.Viper, d *Config) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to parse defaults: %w", err)
	}
	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := val.(map[string]interface{}); ok {
				walk(key, child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// Validate checks cfg against its field constraints
func Validate(cfg *Config) error {
	if err := validate.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Source.Kind == "v4l2" && cfg.Source.Device == "" {
		return fmt.Errorf("invalid configuration: source.device is required for v4l2")
	}
	return nil
}

func (m *Manager) decode() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// GetViper exposes the underlying viper instance for key lookups
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Keys lists every known configuration key
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := m.v.AllKeys()
	slices.Sort(keys)
	return keys
}

// Lookup returns the value stored under a dotted key
func (m *Manager) Lookup(key string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key = strings.ToLower(key)
	if !slices.Contains(m.v.AllKeys(), key) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return m.v.Get(key), nil
}

// Set parses raw according to the type of the existing value, validates
// the result and persists it. Invalid values leave the config unchanged.
func (m *Manager) Set(key, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key = strings.ToLower(key)
	if !slices.Contains(m.v.AllKeys(), key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	prev := m.v.Get(key)
	val, err := coerce(prev, raw)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	m.v.Set(key, val)
	cfg, err := m.decode()
	if err != nil {
		m.v.Set(key, prev)
		return err
	}
	m.config = cfg
	return m.saveLocked()
}

// Override applies a value for this process only, as flags do
func (m *Manager) Override(key string, val interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.v.Get(key)
	m.v.Set(key, val)
	cfg, err := m.decode()
	if err != nil {
		m.v.Set(key, prev)
		return err
	}
	m.config = cfg
	return nil
}

func coerce(current interface{}, raw string) (interface{}, error) {
	switch current.(type) {
	case int, int64, int32, uint, uint64:
		return strconv.Atoi(raw)
	case float64, float32:
		return strconv.ParseFloat(raw, 64)
	case bool:
		return strconv.ParseBool(raw)
	case []interface{}, []map[string]interface{}:
		return nil, fmt.Errorf("list values cannot be set from the command line")
	}
	return raw, nil
}

// Update replaces the configuration after validating it
func (m *Manager) Update(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	return m.saveLocked()
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	cfg := m.config
	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := m.fs.MkdirAll(configDir, 0o755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := afero.WriteFile(m.fs, m.configPath, data, 0o644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// CaptureDir resolves capture.dir; relative paths live under the config dir
func (m *Manager) CaptureDir() string {
	dir := m.Get().Capture.Dir
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(m.GetConfigDir(), dir)
}
