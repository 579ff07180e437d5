package provisioning

// State is the position of an orchestrator in the provisioning sequence.
type State int

const (
	Unconfigured State = iota
	Configured
	WorkspaceResolved
	SourceReady
	DestinationReady
	Connected
	Done
	// Failed is terminal and reachable from every step.
	Failed
)

var stateNames = map[State]string{
	Unconfigured:      "unconfigured",
	Configured:        "configured",
	WorkspaceResolved: "workspace_resolved",
	SourceReady:       "source_ready",
	DestinationReady:  "destination_ready",
	Connected:         "connected",
	Done:              "done",
	Failed:            "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
