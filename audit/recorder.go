package audit

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	log "github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/physical"
)

// Recorder is the append-only, tenant-scoped audit trail. Record is
// fire-and-forget: it never blocks the request path and never surfaces
// a storage failure to the caller. Writes happen on a background
// worker with a detached context, so a caller disconnecting does not
// abort the audit trail; a crash between response and persistence is
// the documented loss window.
type Recorder struct {
	backend physical.Backend
	logger  log.Logger

	queue        chan *Entry
	writeTimeout time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// RecorderConfig tunes the Recorder.
type RecorderConfig struct {
	// QueueSize is the capacity of the in-flight entry buffer. When
	// the buffer is full new entries go to the fallback sink instead
	// of blocking.
	QueueSize int

	// WriteTimeout bounds each storage write.
	WriteTimeout time.Duration
}

func (c *RecorderConfig) withDefaults() RecorderConfig {
	out := RecorderConfig{
		QueueSize:    1024,
		WriteTimeout: 2 * time.Second,
	}
	if c == nil {
		return out
	}
	if c.QueueSize > 0 {
		out.QueueSize = c.QueueSize
	}
	if c.WriteTimeout > 0 {
		out.WriteTimeout = c.WriteTimeout
	}
	return out
}

// NewRecorder creates a Recorder and starts its worker. Call Close to
// drain outstanding entries.
func NewRecorder(backend physical.Backend, logger log.Logger, config *RecorderConfig) *Recorder {
	cfg := config.withDefaults()
	r := &Recorder{
		backend:      backend,
		logger:       logger,
		queue:        make(chan *Entry, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		stopCh:       make(chan struct{}),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Record enqueues an entry for persistence. It fills in the timestamp
// when missing, never blocks, and swallows every failure after logging
// it locally.
func (r *Recorder) Record(entry *Entry) {
	if entry == nil {
		return
	}
	e := entry.Clone()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.TenantID == "" {
		e.TenantID = "unknown"
	}

	select {
	case r.queue <- e:
	default:
		// Buffer full: best-effort fallback, never block the caller.
		r.fallback(e, nil)
	}
}

// RecordOutcome is a convenience for the common authentication /
// authorization decision shape.
func (r *Recorder) RecordOutcome(tenantID, action, resource string, result Result, correlationID string, details map[string]any) {
	r.Record(&Entry{
		TenantID:      tenantID,
		Action:        action,
		Resource:      resource,
		Result:        result,
		CorrelationID: correlationID,
		Details:       details,
	})
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.queue:
			r.persist(entry)
		case <-r.stopCh:
			// Drain what is already queued, then exit.
			for {
				select {
				case entry := <-r.queue:
					r.persist(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		r.fallback(entry, err)
		return
	}

	// Detached from any request context on purpose.
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := physical.PutWithTTL(ctx, r.backend, storageKey(entry), data, RetentionPeriod); err != nil {
		r.fallback(entry, err)
	}
}

// fallback is the local best-effort sink used when the store is
// unavailable. The entry still lands somewhere reconstructable.
func (r *Recorder) fallback(entry *Entry, cause error) {
	fields := []log.TypedField{
		log.String("tenant_id", entry.TenantID),
		log.String("action", entry.Action),
		log.String("resource", entry.Resource),
		log.String("result", string(entry.Result)),
		log.String("correlation_id", entry.CorrelationID),
	}
	if cause != nil {
		fields = append(fields, log.Err(cause))
	}
	r.logger.Warn("audit entry not persisted", fields...)
}

// List returns up to limit entries for exactly one tenant, newest
// first. Entries belonging to other tenants are never returned.
func (r *Recorder) List(ctx context.Context, tenantID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	keys, err := r.backend.List(ctx, tenantPrefix(tenantID))
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		stored, err := r.backend.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(stored.Value, &entry); err != nil {
			r.logger.Warn("skipping corrupt audit entry", log.String("key", key), log.Err(err))
			continue
		}
		// The prefix scopes the scan, the field check enforces the
		// tenancy boundary even against malformed keys.
		if entry.TenantID != tenantID {
			continue
		}
		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Close stops the worker after draining queued entries.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}
