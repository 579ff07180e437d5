package data_integration

import (
	"fmt"
)

// Kind describes one kind of connector resource registered with the control plane. The definition id
// field name is shared by the configuration file and the creation request.
type Kind struct {
	Section           string
	DefinitionIDField string
	IDField           string
}

var (
	SourceKind = Kind{
		Section:           "source",
		DefinitionIDField: "sourceDefinitionId",
		IDField:           "sourceId",
	}
	DestinationKind = Kind{
		Section:           "destination",
		DefinitionIDField: "destinationDefinitionId",
		IDField:           "destinationId",
	}
)

func (k Kind) String() string {
	return k.Section
}

// ResourceConfig is a source or destination section of the configuration.
type ResourceConfig struct {
	Name         string
	DefinitionID string
	// Settings is passed through as the connector's connectionConfiguration.
	Settings map[string]interface{}
}

func decodeResource(kind Kind, raw interface{}) (ResourceConfig, error) {
	if raw == nil {
		return ResourceConfig{}, nil
	}
	section, ok := raw.(map[string]interface{})
	if !ok {
		return ResourceConfig{}, fmt.Errorf("%s section must be an object, got %T", kind, raw)
	}
	var fields struct {
		Name     string                 `mapstructure:"name"`
		Settings map[string]interface{} `mapstructure:"configs"`
	}
	if err := decode(section, &fields); err != nil {
		return ResourceConfig{}, fmt.Errorf("failed to decode %s section: %w", kind, err)
	}
	res := ResourceConfig{
		Name:     fields.Name,
		Settings: fields.Settings,
	}
	if id, ok := section[kind.DefinitionIDField]; ok && id != nil {
		s, ok := id.(string)
		if !ok {
			return ResourceConfig{}, fmt.Errorf("%s.%s must be a string, got %T", kind, kind.DefinitionIDField, id)
		}
		res.DefinitionID = s
	}
	return res, nil
}
