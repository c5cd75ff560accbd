package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// EnvPrefix prefixes environment overrides, e.g. DBPERMS_SERVER_PORT
const EnvPrefix = "DBPERMS"

// envAliases are accepted in addition to the DBPERMS_ form of a key. The
// DATABRICKS_* names match the Databricks CLI and SDKs.
var envAliases = map[string][]string{
	"databricks.host":  {"DATABRICKS_HOST"},
	"databricks.token": {"DATABRICKS_TOKEN"},
	"logging.level":    {"DBPERMS_LOG_LEVEL"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path selects the default
// location under the home directory.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// DefaultPath returns ~/.dbperms/config.json
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dbperms", "config.json")
}

// Path returns the config file path
func (l *Loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultPath()
}

// Load reads the config file (JSON with comments), applies environment
// overrides and fills defaults. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	data, err := l.read()
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.Path(), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// read returns the file normalised to plain JSON, or nil when it does not exist
func (l *Loader) read() ([]byte, error) {
	path := l.Path()
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return jsonc.ToJSON(data), nil
}

// Save writes cfg to the config file. The file holds credentials and is
// created with owner-only permissions.
func (l *Loader) Save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return l.write(append(data, '\n'))
}

// Set updates a single dotted key in the config file, creating the file if
// needed. value is stored as JSON when it parses as JSON and as a string
// otherwise. Comments in the file are not preserved.
func (l *Loader) Set(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key cannot be empty")
	}

	data, err := l.read()
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte("{}")
	}

	if json.Valid([]byte(value)) {
		data, err = sjson.SetRawBytes(data, key, []byte(value))
	} else {
		data, err = sjson.SetBytes(data, key, value)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	return l.write(pretty.Pretty(data))
}

func (l *Loader) write(data []byte) error {
	path := l.Path()
	if path == "" {
		return fmt.Errorf("failed to determine config path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults registers every leaf of cfg as a viper default so that
// environment overrides apply to keys absent from the file
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}

	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			switch typed := val.(type) {
			case map[string]interface{}:
				walk(key, typed)
			case nil:
				v.SetDefault(key, []string{})
			default:
				v.SetDefault(key, typed)
			}
		}
	}
	walk("", tree)
	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
