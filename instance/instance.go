package instance

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of a server instance.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Backend is the isolated, stateful execution unit serving one
// tenant's protocol traffic. Its internal state is opaque to the
// gateway and owned exclusively by the instance wrapping it.
type Backend interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Handle processes one protocol request body and returns the
	// response body. Called only while the instance is running.
	Handle(ctx context.Context, body []byte) ([]byte, error)
}

// Launcher is the isolated-execution capability: it creates a fresh
// Backend for a (tenant, server) pair. Backends from separate calls
// must not share mutable state.
type Launcher interface {
	Launch(ctx context.Context, tenantID, serverID string) (Backend, error)
}

// Status is a point-in-time snapshot of an instance.
type Status struct {
	TenantID  string     `json:"tenantId"`
	ServerID  string     `json:"serverId"`
	State     State      `json:"state"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Instance pairs a backend with its lifecycle state. All transitions
// and protocol forwards are serialized behind opMu (single-writer
// discipline); Status reads bypass opMu so they stay pure and
// non-blocking from any state.
type Instance struct {
	tenantID string
	serverID string
	accessor string

	// opMu serializes lifecycle transitions and forwards.
	opMu sync.Mutex

	// stateMu guards the snapshot fields below.
	stateMu   sync.RWMutex
	state     State
	startedAt *time.Time
	lastErr   string

	backend Backend
}

func newInstance(tenantID, serverID, accessor string) *Instance {
	return &Instance{
		tenantID: tenantID,
		serverID: serverID,
		accessor: accessor,
		state:    StateIdle,
	}
}

// Status returns the current snapshot. Valid from any state.
func (i *Instance) Status() Status {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return Status{
		TenantID:  i.tenantID,
		ServerID:  i.serverID,
		State:     i.state,
		StartedAt: i.startedAt,
		LastError: i.lastErr,
	}
}

func (i *Instance) setState(s State) {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	i.state = s
	switch s {
	case StateRunning:
		now := time.Now().UTC()
		i.startedAt = &now
		i.lastErr = ""
	case StateStopped, StateIdle:
		i.startedAt = nil
	}
}

func (i *Instance) setError(cause error) {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	i.state = StateError
	i.startedAt = nil
	if cause != nil {
		i.lastErr = cause.Error()
	}
}

func (i *Instance) currentState() State {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.state
}
