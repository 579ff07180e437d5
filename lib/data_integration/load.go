package data_integration

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/afero"
)

// ConfigError is returned when the configuration file is missing or its content is unusable.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Path != "" {
		msg = fmt.Sprintf("%s. Input given - %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads the JSON document at path into a mapping.
func Load(fs afero.Fs, path string) (map[string]interface{}, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "unable to stat the file", Err: err}
	}
	if !exists {
		return nil, &ConfigError{Path: path, Reason: "unable to find the file"}
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "unable to read the config file", Err: err}
	}
	var raw map[string]interface{}
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Path: path, Reason: "unable to read the config file", Err: err}
	}
	if raw == nil {
		return nil, &ConfigError{Path: path, Reason: "config must be a JSON object"}
	}
	return raw, nil
}

// LoadConfig loads and parses the configuration file at path.
func LoadConfig(fs afero.Fs, path string) (Config, error) {
	raw, err := Load(fs, path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return Config{}, err
	}
	return cfg, nil
}
