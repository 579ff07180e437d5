package airbyte

import (
	"encoding/json"
	"fmt"

	"genai/lib/data_integration"
)

// ---------------------------------------------------------------------------------------------------------------------
// Json structs for requests
// ---------------------------------------------------------------------------------------------------------------------

type WorkspaceRequest struct {
	Name string `json:"name"`
}

type ConnectionRequest struct {
	Prefix        string `json:"prefix"`
	SourceId      string `json:"sourceId"`
	DestinationId string `json:"destinationId"`
	Status        string `json:"status"`
}

// newResourceRequest builds the creation payload for a source or destination. The definition id key
// depends on the kind, hence a map rather than a struct.
func newResourceRequest(kind data_integration.Kind, workspaceId string, res data_integration.ResourceConfig) map[string]interface{} {
	return map[string]interface{}{
		"name":                    res.Name,
		kind.DefinitionIDField:    res.DefinitionID,
		"workspaceId":             workspaceId,
		"connectionConfiguration": res.Settings,
	}
}

// ---------------------------------------------------------------------------------------------------------------------
// Json structs for responses
// ---------------------------------------------------------------------------------------------------------------------

// Definition is a connector definition as returned by the definition listing endpoints. Only one of
// SourceDefinitionId and DestinationDefinitionId is set.
type Definition struct {
	SourceDefinitionId      string `json:"sourceDefinitionId,omitempty"`
	DestinationDefinitionId string `json:"destinationDefinitionId,omitempty"`
	Name                    string `json:"name"`
	DockerRepository        string `json:"dockerRepository,omitempty"`
	DockerImageTag          string `json:"dockerImageTag,omitempty"`
	DocumentationUrl        string `json:"documentationUrl,omitempty"`
}

func (d Definition) ID() string {
	if d.SourceDefinitionId != "" {
		return d.SourceDefinitionId
	}
	return d.DestinationDefinitionId
}

func (d Definition) Image() string {
	if d.DockerImageTag == "" {
		return d.DockerRepository
	}
	return d.DockerRepository + ":" + d.DockerImageTag
}

type definitionList struct {
	SourceDefinitions []Definition `json:"sourceDefinitions"`
	// A pointer to tell an absent field from an empty list.
	DestinationDefinitions *[]Definition `json:"destinationDefinitions"`
}

// extractId returns the string value of field in a JSON object response.
func extractId(body []byte, field string) (string, error) {
	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	id, ok := resp[field].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("response does not contain %s", field)
	}
	return id, nil
}
