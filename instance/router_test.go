package instance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/bastion/audit"
	"github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/logical"
	"github.com/stephnangue/bastion/physical/inmem"
	"github.com/stephnangue/bastion/tenant"
)

// countingLauncher wraps a launcher and counts starts, with optional
// start delay and failure injection.
type countingLauncher struct {
	starts     atomic.Int64
	startDelay time.Duration
	startErr   error
}

func (l *countingLauncher) Launch(_ context.Context, tenantID, serverID string) (Backend, error) {
	return &countingBackend{launcher: l, tenantID: tenantID, serverID: serverID}, nil
}

type countingBackend struct {
	launcher *countingLauncher
	tenantID string
	serverID string
	stopped  atomic.Bool
}

func (b *countingBackend) Start(ctx context.Context) error {
	if b.launcher.startDelay > 0 {
		select {
		case <-time.After(b.launcher.startDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.launcher.startErr != nil {
		return b.launcher.startErr
	}
	b.launcher.starts.Add(1)
	return nil
}

func (b *countingBackend) Stop(ctx context.Context) error {
	b.stopped.Store(true)
	return nil
}

func (b *countingBackend) Handle(ctx context.Context, body []byte) ([]byte, error) {
	return body, nil
}

func testRouter(t *testing.T, launcher Launcher, config *RouterConfig) *Router {
	t.Helper()
	backend := inmem.NewInmemBackend(logger.NewTestLogger())
	t.Cleanup(backend.Close)

	testLog := logger.NewTestLogger()
	registry := tenant.NewRegistry(backend, testLog, nil)
	recorder := audit.NewRecorder(backend, testLog, nil)
	t.Cleanup(recorder.Close)

	require.NoError(t, registry.Put(context.Background(), &logical.TenantConfig{
		ID:     "acme",
		Status: logical.TenantActive,
		Quotas: logical.TenantQuotas{MaxServers: 2, MaxRequestsPerMinute: 1000},
	}))

	return NewRouter(launcher, registry, recorder, testLog, config)
}

func TestStartStopStatusLifecycle(t *testing.T) {
	r := testRouter(t, NewInProcLauncher(), nil)
	ctx := context.Background()

	// Unknown instances read as idle.
	assert.Equal(t, StateIdle, r.Status("acme", "s1").State)

	status, err := r.Start(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
	require.NotNil(t, status.StartedAt)

	// Start on a running instance is a no-op returning current state.
	status, err = r.Start(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)

	status, err = r.Stop(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)

	// Stop on a stopped instance is a no-op.
	status, err = r.Stop(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)

	// Restart from stopped.
	status, err = r.Start(ctx, "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
}

func TestConcurrentStartsSingleTransition(t *testing.T) {
	launcher := &countingLauncher{startDelay: 20 * time.Millisecond}
	r := testRouter(t, launcher, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := r.Start(context.Background(), "acme", "s1")
			assert.NoError(t, err)
			assert.Equal(t, StateRunning, status.State)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), launcher.starts.Load(), "exactly one starting->running transition")
}

func TestStopAfterStartNeverShowsRunning(t *testing.T) {
	launcher := &countingLauncher{startDelay: 30 * time.Millisecond}
	r := testRouter(t, launcher, nil)

	startDone := make(chan struct{})
	go func() {
		defer close(startDone)
		_, _ = r.Start(context.Background(), "acme", "s1")
	}()

	// Let the start acquire the instance lock, then issue the stop; it
	// waits for the in-flight transition.
	time.Sleep(5 * time.Millisecond)
	status, err := r.Stop(context.Background(), "acme", "s1")
	<-startDone

	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, StateStopped, r.Status("acme", "s1").State)
}

func TestForwardRequiresRunning(t *testing.T) {
	r := testRouter(t, NewInProcLauncher(), nil)
	ctx := context.Background()

	_, err := r.Forward(ctx, "acme", "s1", []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.Error(t, err)
	assert.Equal(t, 503, logical.GetErrorCode(err))

	_, err = r.Start(ctx, "acme", "s1")
	require.NoError(t, err)

	response, err := r.Forward(ctx, "acme", "s1", []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Contains(t, string(response), `"jsonrpc":"2.0"`)

	// Stopped again: forwards fail distinctly.
	_, err = r.Stop(ctx, "acme", "s1")
	require.NoError(t, err)
	_, err = r.Forward(ctx, "acme", "s1", []byte(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	require.Error(t, err)
}

func TestForwardAutoStart(t *testing.T) {
	r := testRouter(t, NewInProcLauncher(), &RouterConfig{AutoStart: true})

	response, err := r.Forward(context.Background(), "acme", "s1",
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, response)
	assert.Equal(t, StateRunning, r.Status("acme", "s1").State)
}

func TestStartTimeoutIsRetryable(t *testing.T) {
	launcher := &countingLauncher{startDelay: time.Second}
	r := testRouter(t, launcher, &RouterConfig{StartTimeout: 20 * time.Millisecond})

	status, err := r.Start(context.Background(), "acme", "s1")
	require.Error(t, err)

	var coded *logical.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, 503, coded.Status)
	assert.Greater(t, coded.RetryAfter, 0, "start timeout must be retryable")
	assert.Equal(t, StateStopped, status.State, "timed-out instance returns to stopped")

	// And the retry can succeed.
	launcher.startDelay = 0
	status, err = r.Start(context.Background(), "acme", "s1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
}

func TestStartFailureParksInstanceInError(t *testing.T) {
	launcher := &countingLauncher{startErr: errors.New("bind: address already in use")}
	r := testRouter(t, launcher, nil)

	status, err := r.Start(context.Background(), "acme", "s1")
	require.Error(t, err)
	assert.Equal(t, StateError, status.State)
	assert.Contains(t, status.LastError, "address already in use")

	// Error state needs operator intervention; another start fails.
	_, err = r.Start(context.Background(), "acme", "s1")
	require.Error(t, err)
	assert.Equal(t, 503, logical.GetErrorCode(err))
}

func TestServerQuotaEnforced(t *testing.T) {
	r := testRouter(t, NewInProcLauncher(), nil)
	ctx := context.Background()

	_, err := r.Start(ctx, "acme", "s1")
	require.NoError(t, err)
	_, err = r.Start(ctx, "acme", "s2")
	require.NoError(t, err)

	// MaxServers is 2.
	_, err = r.Start(ctx, "acme", "s3")
	require.Error(t, err)
	assert.Equal(t, 429, logical.GetErrorCode(err))
}

func TestInstancesIsolatedAcrossServers(t *testing.T) {
	r := testRouter(t, NewInProcLauncher(), nil)
	ctx := context.Background()

	_, err := r.Start(ctx, "acme", "s1")
	require.NoError(t, err)
	_, err = r.Start(ctx, "acme", "s2")
	require.NoError(t, err)

	// Request counts are per instance: two calls to s1, one to s2.
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	_, err = r.Forward(ctx, "acme", "s1", body)
	require.NoError(t, err)
	resp1, err := r.Forward(ctx, "acme", "s1", body)
	require.NoError(t, err)
	resp2, err := r.Forward(ctx, "acme", "s2", body)
	require.NoError(t, err)

	assert.Contains(t, string(resp1), `"requestCount":2`)
	assert.Contains(t, string(resp2), `"requestCount":1`)
}

func TestForwardCancellable(t *testing.T) {
	r := testRouter(t, NewInProcLauncher(), nil)
	ctx := context.Background()

	_, err := r.Start(ctx, "acme", "s1")
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Forward(canceled, "acme", "s1", []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.Error(t, err)
}
