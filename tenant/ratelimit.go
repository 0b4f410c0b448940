package tenant

import (
	"sync"
	"time"
)

// rateWindows tracks per-tenant fixed one-minute request windows. The
// counter resets at each window boundary; increment-and-check is
// atomic per tenant.
type rateWindows struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	lastSweep time.Time
}

type rateWindow struct {
	mu    sync.Mutex
	start time.Time
	count int
}

func newRateWindows() *rateWindows {
	return &rateWindows{
		windows: make(map[string]*rateWindow),
	}
}

// Allow counts one request against the tenant's current window and
// reports whether it fits under the limit. When it does not, the
// second return value is the number of seconds until the window
// resets, for Retry-After guidance.
func (r *rateWindows) Allow(tenantID string, limit int, now time.Time) (bool, int) {
	r.mu.Lock()
	if now.Sub(r.lastSweep) >= time.Minute {
		r.sweepLocked(now)
	}
	w, ok := r.windows[tenantID]
	if !ok {
		w = &rateWindow{}
		r.windows[tenantID] = w
	}
	r.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	windowStart := now.Truncate(time.Minute)
	if !w.start.Equal(windowStart) {
		w.start = windowStart
		w.count = 0
	}

	w.count++
	if w.count > limit {
		retryAfter := int(windowStart.Add(time.Minute).Sub(now).Seconds()) + 1
		return false, retryAfter
	}
	return true, 0
}

// sweepLocked drops windows that ended more than a full window ago, so
// the map does not grow with tenants that stopped sending requests.
// Callers hold r.mu. A tenant swept mid-flight just gets a fresh
// window on its next request.
func (r *rateWindows) sweepLocked(now time.Time) {
	cutoff := now.Truncate(time.Minute).Add(-time.Minute)
	for tenantID, w := range r.windows {
		w.mu.Lock()
		stale := w.start.Before(cutoff)
		w.mu.Unlock()
		if stale {
			delete(r.windows, tenantID)
		}
	}
	r.lastSweep = now
}
