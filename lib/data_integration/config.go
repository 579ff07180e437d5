package data_integration

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/mo"
)

// DefaultHost is used when the configuration does not name a control plane host.
const DefaultHost = "http://localhost:8000/"

type AuthConfig struct {
	APIKey   string `mapstructure:"api-key"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Config is the provisioning configuration. It is loaded once and never mutated afterwards.
type Config struct {
	Host        string
	WorkspaceID mo.Option[string]
	Auth        AuthConfig
	Source      ResourceConfig
	Destination ResourceConfig
}

// Resource returns the configuration section for the given kind.
func (c Config) Resource(kind Kind) ResourceConfig {
	if kind == DestinationKind {
		return c.Destination
	}
	return c.Source
}

// Validate checks the structural shape of the configuration. Credentials are not checked here, an
// unusable auth section is reported when the auth header is derived.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required, is.URL),
		validation.Field(&c.Source),
		validation.Field(&c.Destination),
	)
}

func (r ResourceConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.DefinitionID, validation.Required),
	)
}

// Parse turns a loaded configuration mapping into a validated Config.
func Parse(raw map[string]interface{}) (Config, error) {
	var fields struct {
		Host        string     `mapstructure:"host"`
		WorkspaceID string     `mapstructure:"workspace_id"`
		Auth        AuthConfig `mapstructure:"auth"`
	}
	if err := decode(raw, &fields); err != nil {
		return Config{}, &ConfigError{Reason: "unable to decode the config", Err: err}
	}

	cfg := Config{
		Host:        strings.TrimSpace(fields.Host),
		WorkspaceID: mo.None[string](),
		Auth:        fields.Auth,
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if id := strings.TrimSpace(fields.WorkspaceID); id != "" {
		cfg.WorkspaceID = mo.Some(id)
	}

	var err error
	if cfg.Source, err = decodeResource(SourceKind, raw[SourceKind.Section]); err != nil {
		return Config{}, &ConfigError{Reason: "unable to decode the config", Err: err}
	}
	if cfg.Destination, err = decodeResource(DestinationKind, raw[DestinationKind.Section]); err != nil {
		return Config{}, &ConfigError{Reason: "unable to decode the config", Err: err}
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, &ConfigError{Reason: "invalid config", Err: err}
	}
	return cfg, nil
}

func decode(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return dec.Decode(input)
}
