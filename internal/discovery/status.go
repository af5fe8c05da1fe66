package discovery

import "time"

// Action is a call issued to the managed service.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// RunState is the last observed outcome of applying the desired state.
type RunState string

const (
	RunStateStopped RunState = "stopped"
	RunStateRunning RunState = "running"
	RunStateUnknown RunState = "unknown"
)

// Event sources, used for logging and metrics labels.
const (
	SourceStartup    = "startup"
	SourcePreference = "preference"
	SourceInterface  = "active_interface"
	SourceOffline    = "offline_status"
	SourceShutdown   = "shutdown"
)

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	Preference     string       `json:"preference"`
	Enabled        bool         `json:"enabled"`
	NetworkAware   bool         `json:"network_aware"`
	Network        NetworkState `json:"network"`
	Desired        bool         `json:"desired_running"`
	Observed       RunState     `json:"observed"`
	LastAction     Action       `json:"last_action,omitempty"`
	LastTransition time.Time    `json:"last_transition,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	Starts         int          `json:"starts"`
	Stops          int          `json:"stops"`
	Closed         bool         `json:"closed"`
}
