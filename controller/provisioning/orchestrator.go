package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"genai/airbyte"
	"genai/lib/data_integration"
	"genai/lib/timer"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/mo"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyRun = errors.New("orchestrator has already been run")

var runs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "provisioning_runs_total",
	Help: "Provisioning runs by outcome",
}, []string{"outcome"})

type Params struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	// Parallel creates the source and the destination concurrently instead of one after the other.
	Parallel bool
	// NewWorkspaceName names workspaces created on demand. Defaults to a random uuid.
	NewWorkspaceName func() string
}

// Result holds the handles produced by a run. After a failed run only the handles of the steps that
// succeeded are set.
type Result struct {
	WorkspaceID      string
	WorkspaceCreated bool
	SourceID         string
	DestinationID    string
	ConnectionID     string
}

// Orchestrator drives one provisioning run: it resolves the workspace, creates the source and the
// destination in it, then links them with a connection. Nothing is rolled back when a step fails.
type Orchestrator struct {
	cfg              data_integration.Config
	client           airbyte.Client
	logger           *zap.Logger
	parallel         bool
	newWorkspaceName func() string

	state            State
	failedAt         State
	workspaceID      mo.Option[string]
	workspaceCreated bool
	sourceID         mo.Option[string]
	destinationID    mo.Option[string]
	connectionID     mo.Option[string]
}

// New derives the auth header from cfg and returns a configured orchestrator. It returns an
// *airbyte.AuthConfigError when cfg carries no usable credentials.
func New(cfg data_integration.Config, params Params) (*Orchestrator, error) {
	header, err := airbyte.AuthHeader(cfg.Auth)
	if err != nil {
		return nil, err
	}
	client, err := airbyte.NewClient(cfg.Host, header, params.HTTPClient)
	if err != nil {
		return nil, &data_integration.ConfigError{Reason: "invalid host", Err: err}
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newWorkspaceName := params.NewWorkspaceName
	if newWorkspaceName == nil {
		newWorkspaceName = randomWorkspaceName
	}
	return &Orchestrator{
		cfg:              cfg,
		client:           client,
		logger:           logger.With(zap.String("host", cfg.Host)),
		parallel:         params.Parallel,
		newWorkspaceName: newWorkspaceName,
		state:            Configured,
		workspaceID:      mo.None[string](),
		sourceID:         mo.None[string](),
		destinationID:    mo.None[string](),
		connectionID:     mo.None[string](),
	}, nil
}

// Provision loads the configuration at path and runs a new orchestrator with it.
func Provision(ctx context.Context, fs afero.Fs, path string, params Params) (Result, error) {
	cfg, err := data_integration.LoadConfig(fs, path)
	if err != nil {
		return Result{}, err
	}
	o, err := New(cfg, params)
	if err != nil {
		return Result{}, err
	}
	return o.Run(ctx)
}

func (o *Orchestrator) State() State {
	return o.state
}

// FailedAt returns the last state reached before the run failed.
func (o *Orchestrator) FailedAt() mo.Option[State] {
	if o.state != Failed {
		return mo.None[State]()
	}
	return mo.Some(o.failedAt)
}

// Run executes the provisioning sequence. An orchestrator runs once, later calls return ErrAlreadyRun.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if o.state != Configured {
		return o.result(), ErrAlreadyRun
	}
	ctx = timer.WithTracing(ctx)
	ctx, t := timer.Start(ctx, "provisioning.run")
	err := o.run(ctx)
	t.Stop(err)
	_ = timer.LogTracingInfo(ctx, o.logger)

	if err != nil {
		o.failedAt = o.state
		o.state = Failed
		runs.WithLabelValues("failed").Inc()
		o.logger.Error("Provisioning failed", zap.Stringer("failed_at", o.failedAt), zap.Error(err))
		return o.result(), err
	}
	runs.WithLabelValues("succeeded").Inc()
	return o.result(), nil
}

func (o *Orchestrator) run(ctx context.Context) error {
	if err := o.resolveWorkspace(ctx); err != nil {
		return err
	}
	o.transition(WorkspaceResolved)

	if o.parallel {
		if err := o.createResourcesConcurrently(ctx); err != nil {
			return err
		}
	} else {
		if err := o.createResources(ctx); err != nil {
			return err
		}
	}

	connId, err := o.createConnection(ctx)
	if err != nil {
		return err
	}
	o.connectionID = mo.Some(connId)
	o.transition(Connected)
	o.logger.Info("Connection was created", zap.String("connection_id", connId))
	o.transition(Done)
	return nil
}

func (o *Orchestrator) transition(to State) {
	o.logger.Debug("Provisioning state changed", zap.Stringer("from", o.state), zap.Stringer("to", to))
	o.state = to
}

func (o *Orchestrator) resolveWorkspace(ctx context.Context) error {
	if id, ok := o.cfg.WorkspaceID.Get(); ok {
		o.workspaceID = mo.Some(id)
		o.logger.Info("Using configured workspace", zap.String("workspace_id", id))
		return nil
	}

	ctx, t := timer.Start(ctx, "provisioning.create_workspace")
	id, err := o.client.CreateWorkspace(ctx, o.newWorkspaceName())
	if err == nil {
		t.Span().SetStringAttribute("workspace_id", id)
	}
	t.Stop(err)
	if err != nil {
		return fmt.Errorf("unable to create a workspace: %w", err)
	}
	o.workspaceID = mo.Some(id)
	o.workspaceCreated = true
	o.logger.Info("Created workspace", zap.String("workspace_id", id))
	return nil
}

func (o *Orchestrator) createResources(ctx context.Context) error {
	srcId, err := o.createResource(ctx, data_integration.SourceKind)
	if err != nil {
		return err
	}
	o.sourceID = mo.Some(srcId)
	o.transition(SourceReady)

	dstId, err := o.createResource(ctx, data_integration.DestinationKind)
	if err != nil {
		return err
	}
	o.destinationID = mo.Some(dstId)
	o.transition(DestinationReady)
	return nil
}

// createResourcesConcurrently lets both calls complete even if one of them fails, so that every
// resource created on the control plane is reported.
func (o *Orchestrator) createResourcesConcurrently(ctx context.Context) error {
	var g errgroup.Group
	var srcId, dstId string
	var srcErr, dstErr error
	g.Go(func() error {
		srcId, srcErr = o.createResource(ctx, data_integration.SourceKind)
		return srcErr
	})
	g.Go(func() error {
		dstId, dstErr = o.createResource(ctx, data_integration.DestinationKind)
		return dstErr
	})
	err := g.Wait()

	if srcErr == nil {
		o.sourceID = mo.Some(srcId)
	}
	if dstErr == nil {
		o.destinationID = mo.Some(dstId)
	}
	if err != nil {
		return err
	}
	o.transition(SourceReady)
	o.transition(DestinationReady)
	return nil
}

func (o *Orchestrator) createResource(ctx context.Context, kind data_integration.Kind) (string, error) {
	workspaceId, ok := o.workspaceID.Get()
	if !ok {
		return "", fmt.Errorf("cannot create %s: workspace is not resolved", kind)
	}
	res := o.cfg.Resource(kind)
	logger := o.logger.With(zap.String("kind", kind.Section), zap.String("name", res.Name))

	ctx, t := timer.Start(ctx, "provisioning.create_"+kind.Section)
	id, err := o.client.CreateResource(ctx, kind, workspaceId, res)
	if err == nil {
		t.Span().SetStringAttribute(kind.IDField, id)
	}
	t.Stop(err)
	if err != nil {
		logger.Warn("Failed to create "+kind.Section, zap.Error(err))
		return "", err
	}
	logger.Info("Created "+kind.Section, zap.String(kind.IDField, id))
	return id, nil
}

func (o *Orchestrator) createConnection(ctx context.Context) (string, error) {
	srcId, srcOk := o.sourceID.Get()
	dstId, dstOk := o.destinationID.Get()
	if !srcOk || !dstOk {
		return "", fmt.Errorf("cannot create connection: source and destination must be created first")
	}

	ctx, t := timer.Start(ctx, "provisioning.create_connection")
	id, err := o.client.CreateConnection(ctx, srcId, dstId)
	if err == nil {
		t.Span().SetStringAttribute("connection_id", id)
	}
	t.Stop(err)
	return id, err
}

func (o *Orchestrator) ListSourceDefinitions(ctx context.Context) ([]airbyte.Definition, error) {
	ctx, t := timer.Start(ctx, "provisioning.list_source_definitions")
	defs, err := o.client.ListSourceDefinitions(ctx)
	t.Stop(err)
	return defs, err
}

func (o *Orchestrator) ListDestinationDefinitions(ctx context.Context) ([]airbyte.Definition, error) {
	ctx, t := timer.Start(ctx, "provisioning.list_destination_definitions")
	defs, err := o.client.ListDestinationDefinitions(ctx)
	t.Stop(err)
	return defs, err
}

func (o *Orchestrator) result() Result {
	return Result{
		WorkspaceID:      o.workspaceID.OrElse(""),
		WorkspaceCreated: o.workspaceCreated,
		SourceID:         o.sourceID.OrElse(""),
		DestinationID:    o.destinationID.OrElse(""),
		ConnectionID:     o.connectionID.OrElse(""),
	}
}

func randomWorkspaceName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
