package airbyte

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"genai/lib/data_integration"
)

const (
	CREATE_WORKSPACE_PATH            = "/api/v1/workspaces/create"
	CREATE_SOURCE_PATH               = "/api/v1/sources/create"
	CREATE_DESTINATION_PATH          = "/api/v1/destinations/create"
	CREATE_CONNECTION_PATH           = "/api/v1/connections/create"
	SOURCE_DEFINITION_LIST_PATH      = "/api/v1/source_definitions/list"
	DESTINATION_DEFINITION_LIST_PATH = "/api/v1/destination_definitions/list"
)

const (
	CONNECTION_PREFIX        = "genai_stack"
	CONNECTION_STATUS_ACTIVE = "active"
)

var createPaths = map[data_integration.Kind]string{
	data_integration.SourceKind:      CREATE_SOURCE_PATH,
	data_integration.DestinationKind: CREATE_DESTINATION_PATH,
}

// Client talks to the control plane API. Every call is a synchronous JSON POST carrying the same
// auth header set.
type Client struct {
	httpclient *http.Client
	url        *url.URL
	header     http.Header
}

// NewClient creates a client for the control plane at hostport. A nil httpclient falls back to
// http.DefaultClient.
func NewClient(hostport string, header http.Header, httpclient *http.Client) (Client, error) {
	u, err := url.Parse(hostport)
	if err != nil {
		return Client{}, fmt.Errorf("failed to parse hostport [%s]: %v", hostport, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Client{}, fmt.Errorf("hostport [%s] must be an absolute url", hostport)
	}
	if httpclient == nil {
		httpclient = http.DefaultClient
	}
	return Client{
		httpclient: httpclient,
		url:        u,
		header:     header.Clone(),
	}, nil
}

// CreateWorkspace creates a workspace with the given name and returns its id.
func (c Client) CreateWorkspace(ctx context.Context, name string) (string, error) {
	const op = "create workspace"
	resp, err := c.postJSON(ctx, op, CREATE_WORKSPACE_PATH, WorkspaceRequest{Name: name})
	if err != nil {
		return "", err
	}
	return c.responseId(op, resp, "workspaceId")
}

// CreateResource registers a source or destination in the workspace and returns the id the control
// plane assigned to it.
func (c Client) CreateResource(ctx context.Context, kind data_integration.Kind, workspaceId string, res data_integration.ResourceConfig) (string, error) {
	path, ok := createPaths[kind]
	if !ok {
		return "", fmt.Errorf("unknown resource kind: %s", kind)
	}
	op := "create " + kind.Section
	resp, err := c.postJSON(ctx, op, path, newResourceRequest(kind, workspaceId, res))
	if err != nil {
		return "", err
	}
	return c.responseId(op, resp, kind.IDField)
}

// CreateConnection links a source to a destination and returns the connection id.
func (c Client) CreateConnection(ctx context.Context, sourceId, destinationId string) (string, error) {
	const op = "create connection"
	req := ConnectionRequest{
		Prefix:        CONNECTION_PREFIX,
		SourceId:      sourceId,
		DestinationId: destinationId,
		Status:        CONNECTION_STATUS_ACTIVE,
	}
	resp, err := c.postJSON(ctx, op, CREATE_CONNECTION_PATH, req)
	if err != nil {
		return "", err
	}
	return c.responseId(op, resp, "connectionId")
}

func (c Client) ListSourceDefinitions(ctx context.Context) ([]Definition, error) {
	defs, err := c.listDefinitions(ctx, "list source definitions", SOURCE_DEFINITION_LIST_PATH)
	if err != nil {
		return nil, err
	}
	return defs.SourceDefinitions, nil
}

// ListDestinationDefinitions reads the destinationDefinitions field, and falls back to
// sourceDefinitions for control planes that reuse the source field name.
func (c Client) ListDestinationDefinitions(ctx context.Context) ([]Definition, error) {
	defs, err := c.listDefinitions(ctx, "list destination definitions", DESTINATION_DEFINITION_LIST_PATH)
	if err != nil {
		return nil, err
	}
	if defs.DestinationDefinitions != nil {
		return *defs.DestinationDefinitions, nil
	}
	return defs.SourceDefinitions, nil
}

// ---------------------------------------------------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------------------------------------------------

func (c Client) listDefinitions(ctx context.Context, op, path string) (definitionList, error) {
	resp, err := c.postJSON(ctx, op, path, struct{}{})
	if err != nil {
		return definitionList{}, err
	}
	var defs definitionList
	if err = json.Unmarshal(resp, &defs); err != nil {
		return definitionList{}, &ProvisioningError{Op: op, StatusCode: http.StatusOK, Body: string(resp), Reason: err.Error()}
	}
	return defs, nil
}

func (c Client) responseId(op string, resp []byte, field string) (string, error) {
	id, err := extractId(resp, field)
	if err != nil {
		return "", &ProvisioningError{Op: op, StatusCode: http.StatusOK, Body: string(resp), Reason: err.Error()}
	}
	return id, nil
}

func (c Client) postJSON(ctx context.Context, op, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.getURL(path), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	for k, v := range c.header {
		req.Header[k] = append([]string(nil), v...)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	response, err := c.httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: server error: %w", op, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: could not read server response: %w", op, err)
	}
	// handle http error given by the server
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &ProvisioningError{Op: op, StatusCode: response.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c Client) getURL(path string) string {
	u := *c.url
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawPath = ""
	return u.String()
}
