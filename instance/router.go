package instance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/stephnangue/bastion/audit"
	log "github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/logical"
	"github.com/stephnangue/bastion/tenant"
)

type instanceKey struct {
	tenantID string
	serverID string
}

// RouterConfig tunes the instance router.
type RouterConfig struct {
	// StartTimeout bounds a backend start; exceeding it yields a
	// retryable instance error and returns the instance to stopped.
	StartTimeout time.Duration

	// StopTimeout bounds a backend stop.
	StopTimeout time.Duration

	// AutoStart, when enabled, lets Forward start a non-running
	// instance instead of failing with "instance not available".
	AutoStart bool
}

func (c *RouterConfig) withDefaults() RouterConfig {
	out := RouterConfig{
		StartTimeout: 10 * time.Second,
		StopTimeout:  10 * time.Second,
	}
	if c == nil {
		return out
	}
	if c.StartTimeout > 0 {
		out.StartTimeout = c.StartTimeout
	}
	if c.StopTimeout > 0 {
		out.StopTimeout = c.StopTimeout
	}
	out.AutoStart = c.AutoStart
	return out
}

// Router owns every server instance and is the only component holding
// a reference to their internal state. State is partitioned per
// instance; operations against different instances proceed fully in
// parallel, there is no global lock on the request path.
type Router struct {
	mu        sync.RWMutex
	instances map[instanceKey]*Instance

	launcher Launcher
	registry *tenant.Registry
	recorder *audit.Recorder
	logger   log.Logger
	config   RouterConfig
}

// NewRouter creates an instance router.
func NewRouter(launcher Launcher, registry *tenant.Registry, recorder *audit.Recorder, logger log.Logger, config *RouterConfig) *Router {
	return &Router{
		instances: make(map[instanceKey]*Instance),
		launcher:  launcher,
		registry:  registry,
		recorder:  recorder,
		logger:    logger,
		config:    config.withDefaults(),
	}
}

// getOrCreate returns the instance for the key, creating it if the
// tenant's server quota allows.
func (r *Router) getOrCreate(ctx context.Context, tenantID, serverID string) (*Instance, error) {
	key := instanceKey{tenantID: tenantID, serverID: serverID}

	r.mu.RLock()
	inst, ok := r.instances[key]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	existing := 0
	for k := range r.instances {
		if k.tenantID == tenantID {
			existing++
		}
	}
	if err := r.registry.CheckQuota(ctx, tenantID, tenant.QuotaServers, existing); err != nil {
		return nil, err
	}

	accessor, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance accessor: %w", err)
	}

	inst = newInstance(tenantID, serverID, accessor)
	r.instances[key] = inst
	r.logger.Info("instance registered",
		log.String("tenant_id", tenantID),
		log.String("server_id", serverID),
		log.String("accessor", accessor),
	)
	return inst, nil
}

// get returns the instance if it exists.
func (r *Router) get(tenantID, serverID string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceKey{tenantID: tenantID, serverID: serverID}]
	return inst, ok
}

// Start transitions the instance to running. Valid from idle and
// stopped; a no-op returning the current state when already running.
// Concurrent callers serialize on the instance: the second caller
// waits for the in-flight transition and observes its result.
func (r *Router) Start(ctx context.Context, tenantID, serverID string) (Status, error) {
	inst, err := r.getOrCreate(ctx, tenantID, serverID)
	if err != nil {
		return Status{}, err
	}

	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	switch inst.currentState() {
	case StateRunning:
		return inst.Status(), nil
	case StateError:
		r.auditInstance(ctx, tenantID, serverID, "instance_start", audit.ResultFailure, "instance in error state")
		return inst.Status(), logical.ErrInstance("Instance requires operator intervention", 0)
	case StateIdle, StateStopped:
		// startable
	default:
		return inst.Status(), logical.ErrInstance(fmt.Sprintf("Instance cannot start from state %q", inst.currentState()), 0)
	}

	inst.setState(StateStarting)

	backend, err := r.launcher.Launch(ctx, tenantID, serverID)
	if err != nil {
		inst.setError(err)
		r.auditInstance(ctx, tenantID, serverID, "instance_start", audit.ResultError, err.Error())
		return inst.Status(), logical.ErrInstance("Instance failed to start", 0)
	}

	startCtx, cancel := context.WithTimeout(ctx, r.config.StartTimeout)
	defer cancel()

	if err := backend.Start(startCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			// Timed out, not broken: back to stopped so a retry can
			// attempt another start.
			inst.setState(StateStopped)
			r.auditInstance(ctx, tenantID, serverID, "instance_start", audit.ResultFailure, "start timeout")
			return inst.Status(), logical.ErrInstance("Instance start timeout", 1)
		}
		inst.setError(err)
		r.auditInstance(ctx, tenantID, serverID, "instance_start", audit.ResultError, err.Error())
		return inst.Status(), logical.ErrInstance("Instance failed to start", 0)
	}

	inst.backend = backend
	inst.setState(StateRunning)
	r.auditInstance(ctx, tenantID, serverID, "instance_start", audit.ResultSuccess, "")
	return inst.Status(), nil
}

// Stop transitions a running instance to stopped. A stop issued while
// a start is in flight serializes behind it and then stops the now
// running instance; because transitions and forwards share the
// instance lock, acquiring it is the drain: no forward is in flight
// once Stop holds it.
func (r *Router) Stop(ctx context.Context, tenantID, serverID string) (Status, error) {
	inst, ok := r.get(tenantID, serverID)
	if !ok {
		return Status{}, logical.ErrInstance("Instance not available", 0)
	}

	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	switch inst.currentState() {
	case StateStopped, StateIdle:
		return inst.Status(), nil
	case StateError:
		return inst.Status(), logical.ErrInstance("Instance requires operator intervention", 0)
	case StateRunning:
		// stoppable
	default:
		return inst.Status(), logical.ErrInstance(fmt.Sprintf("Instance cannot stop from state %q", inst.currentState()), 0)
	}

	inst.setState(StateStopping)

	stopCtx, cancel := context.WithTimeout(ctx, r.config.StopTimeout)
	defer cancel()

	if err := inst.backend.Stop(stopCtx); err != nil {
		inst.setError(err)
		r.auditInstance(ctx, tenantID, serverID, "instance_stop", audit.ResultError, err.Error())
		return inst.Status(), logical.ErrInstance("Instance failed to stop", 0)
	}

	inst.backend = nil
	inst.setState(StateStopped)
	r.auditInstance(ctx, tenantID, serverID, "instance_stop", audit.ResultSuccess, "")
	return inst.Status(), nil
}

// Status returns the instance snapshot; unknown instances read as
// idle, since starting one would create it in that state.
func (r *Router) Status(tenantID, serverID string) Status {
	if inst, ok := r.get(tenantID, serverID); ok {
		return inst.Status()
	}
	return Status{TenantID: tenantID, ServerID: serverID, State: StateIdle}
}

// Forward routes one protocol request to the tenant's instance. The
// forwarded work is bound to the caller's context and therefore
// cancellable; forwarding to a non-running instance fails with a
// distinct "instance not available" error unless auto-start is
// configured.
func (r *Router) Forward(ctx context.Context, tenantID, serverID string, body []byte) ([]byte, error) {
	inst, ok := r.get(tenantID, serverID)
	if !ok || inst.currentState() != StateRunning {
		if !r.config.AutoStart {
			return nil, logical.ErrInstance("Instance not available", 0)
		}
		if _, err := r.Start(ctx, tenantID, serverID); err != nil {
			return nil, err
		}
		inst, _ = r.get(tenantID, serverID)
	}

	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	// Re-check under the lock: a stop may have won the race.
	if inst.currentState() != StateRunning {
		return nil, logical.ErrInstance("Instance not available", 0)
	}

	response, err := inst.backend.Handle(ctx, body)
	if err != nil {
		r.logger.Error("instance request failed",
			log.Err(err),
			log.String("tenant_id", tenantID),
			log.String("server_id", serverID),
		)
		return nil, logical.ErrInstance("Instance request failed", 0)
	}
	return response, nil
}

func (r *Router) auditInstance(ctx context.Context, tenantID, serverID, action string, result audit.Result, detail string) {
	details := map[string]any{"serverId": serverID}
	if detail != "" {
		details["detail"] = detail
	}
	r.recorder.Record(&audit.Entry{
		TenantID:      tenantID,
		Action:        action,
		Resource:      "server_instance",
		Result:        result,
		Details:       details,
		CorrelationID: logical.CorrelationIDFromContext(ctx),
	})
}
