package instance

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// InProcLauncher launches in-process backends. It is the default
// execution capability for single-node deployments and tests; each
// backend owns its own state and shares nothing with its siblings.
type InProcLauncher struct{}

// NewInProcLauncher creates the in-process launcher.
func NewInProcLauncher() *InProcLauncher {
	return &InProcLauncher{}
}

// Launch creates a fresh in-process backend.
func (l *InProcLauncher) Launch(_ context.Context, tenantID, serverID string) (Backend, error) {
	return &inprocBackend{tenantID: tenantID, serverID: serverID}, nil
}

// inprocBackend holds its protocol state privately. The gateway treats
// the state as opaque; only request counting and liveness live here.
type inprocBackend struct {
	tenantID string
	serverID string

	mu       sync.Mutex
	started  bool
	requests int64
}

func (b *inprocBackend) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *inprocBackend) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	return nil
}

var errBackendStopped = errors.New("backend is not started")

func (b *inprocBackend) Handle(ctx context.Context, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil, errBackendStopped
	}
	b.requests++
	count := b.requests
	b.mu.Unlock()

	var request struct {
		JSONRPC string `json:"jsonrpc"`
		ID      any    `json:"id"`
		Method  string `json:"method"`
	}
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, err
	}

	response := map[string]any{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result": map[string]any{
			"serverId":     b.serverID,
			"method":       request.Method,
			"requestCount": count,
		},
	}
	return json.Marshal(response)
}
