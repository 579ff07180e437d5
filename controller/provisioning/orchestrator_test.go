package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"genai/airbyte"
	"genai/lib/data_integration"

	"github.com/samber/mo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// controlPlane is a mock control plane. Every creation endpoint hands out ids with a per-endpoint
// counter ("w1", "w2", ...) unless a failure is configured for it.
type controlPlane struct {
	t        *testing.T
	lock     sync.Mutex
	calls    map[string]int
	bodies   map[string][]map[string]interface{}
	order    []string
	failures map[string]int
}

var idPrefixes = map[string]struct {
	field  string
	prefix string
}{
	airbyte.CREATE_WORKSPACE_PATH:   {"workspaceId", "w"},
	airbyte.CREATE_SOURCE_PATH:      {"sourceId", "s"},
	airbyte.CREATE_DESTINATION_PATH: {"destinationId", "d"},
	airbyte.CREATE_CONNECTION_PATH:  {"connectionId", "c"},
}

func newControlPlane(t *testing.T) (*controlPlane, *httptest.Server) {
	cp := &controlPlane{
		t:        t,
		calls:    make(map[string]int),
		bodies:   make(map[string][]map[string]interface{}),
		failures: make(map[string]int),
	}
	mux := http.NewServeMux()
	for path := range idPrefixes {
		mux.HandleFunc(path, cp.handle)
	}
	mux.HandleFunc(airbyte.SOURCE_DEFINITION_LIST_PATH, cp.handle)
	mux.HandleFunc(airbyte.DESTINATION_DEFINITION_LIST_PATH, cp.handle)
	svr := httptest.NewServer(mux)
	t.Cleanup(svr.Close)
	return cp, svr
}

func (cp *controlPlane) handle(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	assert.NoError(cp.t, err)
	var body map[string]interface{}
	assert.NoError(cp.t, json.Unmarshal(data, &body))

	cp.lock.Lock()
	cp.calls[r.URL.Path]++
	n := cp.calls[r.URL.Path]
	cp.bodies[r.URL.Path] = append(cp.bodies[r.URL.Path], body)
	cp.order = append(cp.order, r.URL.Path)
	status := cp.failures[r.URL.Path]
	cp.lock.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"upstream failure"}`))
		return
	}
	var resp interface{}
	switch r.URL.Path {
	case airbyte.SOURCE_DEFINITION_LIST_PATH:
		resp = map[string]interface{}{"sourceDefinitions": []map[string]string{{"name": "File", "sourceDefinitionId": "src-file"}}}
	case airbyte.DESTINATION_DEFINITION_LIST_PATH:
		resp = map[string]interface{}{"destinationDefinitions": []map[string]string{{"name": "Chroma", "destinationDefinitionId": "dst-chroma"}}}
	default:
		id := idPrefixes[r.URL.Path]
		resp = map[string]string{id.field: fmt.Sprintf("%s%d", id.prefix, n)}
	}
	b, _ := json.Marshal(resp)
	_, _ = w.Write(b)
}

func (cp *controlPlane) fail(path string, status int) {
	cp.lock.Lock()
	defer cp.lock.Unlock()
	cp.failures[path] = status
}

func (cp *controlPlane) count(path string) int {
	cp.lock.Lock()
	defer cp.lock.Unlock()
	return cp.calls[path]
}

func (cp *controlPlane) total() int {
	cp.lock.Lock()
	defer cp.lock.Unlock()
	return len(cp.order)
}

func testConfig(host string) data_integration.Config {
	return data_integration.Config{
		Host:        host,
		WorkspaceID: mo.None[string](),
		Auth:        data_integration.AuthConfig{APIKey: "token"},
		Source: data_integration.ResourceConfig{
			Name:         "movies",
			DefinitionID: "src-def",
			Settings:     map[string]interface{}{"format": "csv"},
		},
		Destination: data_integration.ResourceConfig{
			Name:         "vectors",
			DefinitionID: "dst-def",
			Settings:     map[string]interface{}{"destination_path": "/local"},
		},
	}
}

func TestRun(t *testing.T) {
	cp, svr := newControlPlane(t)
	core, logs := observer.New(zapcore.InfoLevel)

	o, err := New(testConfig(svr.URL), Params{
		Logger:           zap.New(core),
		NewWorkspaceName: func() string { return "test-workspace" },
	})
	require.NoError(t, err)
	assert.Equal(t, Configured, o.State())

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{
		WorkspaceID:      "w1",
		WorkspaceCreated: true,
		SourceID:         "s1",
		DestinationID:    "d1",
		ConnectionID:     "c1",
	}, res)
	assert.Equal(t, Done, o.State())
	assert.True(t, o.FailedAt().IsAbsent())

	assert.Equal(t, []string{
		airbyte.CREATE_WORKSPACE_PATH,
		airbyte.CREATE_SOURCE_PATH,
		airbyte.CREATE_DESTINATION_PATH,
		airbyte.CREATE_CONNECTION_PATH,
	}, cp.order)
	assert.Equal(t, "test-workspace", cp.bodies[airbyte.CREATE_WORKSPACE_PATH][0]["name"])
	assert.Equal(t, "w1", cp.bodies[airbyte.CREATE_SOURCE_PATH][0]["workspaceId"])
	assert.Equal(t, "w1", cp.bodies[airbyte.CREATE_DESTINATION_PATH][0]["workspaceId"])
	assert.Equal(t, map[string]interface{}{
		"prefix":        "genai_stack",
		"sourceId":      "s1",
		"destinationId": "d1",
		"status":        "active",
	}, cp.bodies[airbyte.CREATE_CONNECTION_PATH][0])

	created := logs.FilterMessage("Connection was created").All()
	require.Len(t, created, 1)
	assert.Equal(t, "c1", created[0].ContextMap()["connection_id"])
}

func TestConfiguredWorkspaceIsNotCreated(t *testing.T) {
	cp, svr := newControlPlane(t)
	cfg := testConfig(svr.URL)
	cfg.WorkspaceID = mo.Some("existing-ws")

	o, err := New(cfg, Params{})
	require.NoError(t, err)
	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, cp.count(airbyte.CREATE_WORKSPACE_PATH))
	assert.Equal(t, "existing-ws", res.WorkspaceID)
	assert.False(t, res.WorkspaceCreated)
	assert.Equal(t, "existing-ws", cp.bodies[airbyte.CREATE_SOURCE_PATH][0]["workspaceId"])
	assert.Equal(t, "existing-ws", cp.bodies[airbyte.CREATE_DESTINATION_PATH][0]["workspaceId"])
}

func TestDefaultWorkspaceNameIsRandom(t *testing.T) {
	cp, svr := newControlPlane(t)
	for i := 0; i < 2; i++ {
		o, err := New(testConfig(svr.URL), Params{})
		require.NoError(t, err)
		_, err = o.Run(context.Background())
		require.NoError(t, err)
	}
	names := cp.bodies[airbyte.CREATE_WORKSPACE_PATH]
	require.Len(t, names, 2)
	assert.Len(t, names[0]["name"], 32)
	assert.NotEqual(t, names[0]["name"], names[1]["name"])
}

func TestWorkspaceFailureAbortsRun(t *testing.T) {
	cp, svr := newControlPlane(t)
	cp.fail(airbyte.CREATE_WORKSPACE_PATH, http.StatusInternalServerError)

	o, err := New(testConfig(svr.URL), Params{})
	require.NoError(t, err)
	_, err = o.Run(context.Background())

	var pe *airbyte.ProvisioningError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, `{"message":"upstream failure"}`, pe.Body)
	assert.Equal(t, 1, cp.total())
	assert.Equal(t, Failed, o.State())
	assert.Equal(t, Configured, o.FailedAt().MustGet())
}

func TestSourceFailureNeverCreatesConnection(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			cp, svr := newControlPlane(t)
			cp.fail(airbyte.CREATE_SOURCE_PATH, http.StatusInternalServerError)

			o, err := New(testConfig(svr.URL), Params{Parallel: parallel})
			require.NoError(t, err)
			res, err := o.Run(context.Background())

			var pe *airbyte.ProvisioningError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
			assert.Equal(t, 0, cp.count(airbyte.CREATE_CONNECTION_PATH))
			assert.Equal(t, Failed, o.State())
			assert.Empty(t, res.SourceID)
			assert.Empty(t, res.ConnectionID)
		})
	}
}

func TestDestinationFailureNeverCreatesConnection(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			cp, svr := newControlPlane(t)
			cp.fail(airbyte.CREATE_DESTINATION_PATH, http.StatusBadRequest)

			o, err := New(testConfig(svr.URL), Params{Parallel: parallel})
			require.NoError(t, err)
			res, err := o.Run(context.Background())

			var pe *airbyte.ProvisioningError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, 1, cp.count(airbyte.CREATE_SOURCE_PATH))
			assert.Equal(t, 0, cp.count(airbyte.CREATE_CONNECTION_PATH))
			// the source was created and is left in place
			assert.Equal(t, "s1", res.SourceID)
			assert.Empty(t, res.DestinationID)
		})
	}
}

func TestConnectionFailure(t *testing.T) {
	cp, svr := newControlPlane(t)
	cp.fail(airbyte.CREATE_CONNECTION_PATH, http.StatusConflict)

	o, err := New(testConfig(svr.URL), Params{})
	require.NoError(t, err)
	res, err := o.Run(context.Background())

	var pe *airbyte.ProvisioningError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusConflict, pe.StatusCode)
	assert.Equal(t, DestinationReady, o.FailedAt().MustGet())
	assert.Equal(t, "d1", res.DestinationID)
	assert.Empty(t, res.ConnectionID)
}

func TestParallelRun(t *testing.T) {
	cp, svr := newControlPlane(t)
	o, err := New(testConfig(svr.URL), Params{Parallel: true})
	require.NoError(t, err)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ConnectionID)
	assert.Equal(t, Done, o.State())
	require.Len(t, cp.order, 4)
	assert.Equal(t, airbyte.CREATE_WORKSPACE_PATH, cp.order[0])
	assert.ElementsMatch(t, []string{airbyte.CREATE_SOURCE_PATH, airbyte.CREATE_DESTINATION_PATH}, cp.order[1:3])
	assert.Equal(t, airbyte.CREATE_CONNECTION_PATH, cp.order[3])
}

func TestRunOnlyOnce(t *testing.T) {
	cp, svr := newControlPlane(t)
	o, err := New(testConfig(svr.URL), Params{})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)
	res, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Equal(t, "c1", res.ConnectionID)
	assert.Equal(t, 4, cp.total())
}

func TestRunsAreNotDeduplicated(t *testing.T) {
	cp, svr := newControlPlane(t)
	cfg := testConfig(svr.URL)

	var results []Result
	for i := 0; i < 2; i++ {
		o, err := New(cfg, Params{})
		require.NoError(t, err)
		res, err := o.Run(context.Background())
		require.NoError(t, err)
		results = append(results, res)
	}
	assert.Equal(t, 2, cp.count(airbyte.CREATE_CONNECTION_PATH))
	assert.NotEqual(t, results[0].SourceID, results[1].SourceID)
	assert.NotEqual(t, results[0].DestinationID, results[1].DestinationID)
	assert.NotEqual(t, results[0].ConnectionID, results[1].ConnectionID)
}

func TestMissingAuthFailsBeforeAnyCall(t *testing.T) {
	cp, svr := newControlPlane(t)
	cfg := testConfig(svr.URL)
	cfg.Auth = data_integration.AuthConfig{Username: "airbyte"}

	o, err := New(cfg, Params{})
	assert.Nil(t, o)
	var ae *airbyte.AuthConfigError
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, 0, cp.total())
}

func TestCanceledContext(t *testing.T) {
	cp, svr := newControlPlane(t)
	o, err := New(testConfig(svr.URL), Params{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, o.State())
	assert.Equal(t, 0, cp.count(airbyte.CREATE_CONNECTION_PATH))
}

func TestListDefinitions(t *testing.T) {
	cp, svr := newControlPlane(t)
	o, err := New(testConfig(svr.URL), Params{})
	require.NoError(t, err)
	ctx := context.Background()

	srcs, err := o.ListSourceDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "src-file", srcs[0].ID())

	dsts, err := o.ListDestinationDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, dsts, 1)
	assert.Equal(t, "dst-chroma", dsts[0].ID())

	// listing is outside the state machine
	assert.Equal(t, Configured, o.State())

	cp.fail(airbyte.SOURCE_DEFINITION_LIST_PATH, http.StatusInternalServerError)
	_, err = o.ListSourceDefinitions(ctx)
	var pe *airbyte.ProvisioningError
	assert.True(t, errors.As(err, &pe))
}

func TestProvision(t *testing.T) {
	cp, svr := newControlPlane(t)
	fs := afero.NewMemMapFs()
	config := fmt.Sprintf(`{
		"host": %q,
		"auth": {"username": "airbyte", "password": "password"},
		"source": {"name": "movies", "sourceDefinitionId": "src-def", "configs": {"format": "csv"}},
		"destination": {"name": "vectors", "destinationDefinitionId": "dst-def", "configs": {}}
	}`, svr.URL)
	require.NoError(t, afero.WriteFile(fs, "/config.json", []byte(config), 0o644))

	res, err := Provision(context.Background(), fs, "/config.json", Params{})
	require.NoError(t, err)
	assert.Equal(t, "c1", res.ConnectionID)
	assert.Equal(t, 1, cp.count(airbyte.CREATE_WORKSPACE_PATH))
}

func TestProvisionErrors(t *testing.T) {
	cp, svr := newControlPlane(t)
	fs := afero.NewMemMapFs()
	noAuth := fmt.Sprintf(`{
		"host": %q,
		"source": {"name": "movies", "sourceDefinitionId": "src-def"},
		"destination": {"name": "vectors", "destinationDefinitionId": "dst-def"}
	}`, svr.URL)
	require.NoError(t, afero.WriteFile(fs, "/no_auth.json", []byte(noAuth), 0o644))

	_, err := Provision(context.Background(), fs, "/missing.json", Params{})
	var ce *data_integration.ConfigError
	assert.True(t, errors.As(err, &ce))

	_, err = Provision(context.Background(), fs, "/no_auth.json", Params{})
	var ae *airbyte.AuthConfigError
	assert.True(t, errors.As(err, &ae))
	assert.Equal(t, 0, cp.total())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "workspace_resolved", WorkspaceResolved.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}
