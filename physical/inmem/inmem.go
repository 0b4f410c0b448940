package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/armon/go-radix"

	log "github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/physical"
)

// Verify interfaces are satisfied
var _ physical.Backend = (*InmemBackend)(nil)

// InmemBackend is an in-memory only Backend. It is useful for testing
// and development situations where the data is not expected to be
// durable. Expired entries are dropped lazily on read and swept
// periodically in the background.
type InmemBackend struct {
	sync.RWMutex
	root         *radix.Tree
	logger       log.Logger
	maxValueSize int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures an InmemBackend.
type Option func(*InmemBackend)

// WithMaxValueSize bounds the size of stored values; larger puts fail
// with physical.ErrValueTooLarge.
func WithMaxValueSize(n int) Option {
	return func(b *InmemBackend) {
		b.maxValueSize = n
	}
}

// NewInmemBackend creates an in-memory backend and starts its expiry
// sweeper. Call Close to stop the sweeper.
func NewInmemBackend(logger log.Logger, opts ...Option) *InmemBackend {
	b := &InmemBackend{
		root:   radix.New(),
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.sweep(time.Minute)
	return b
}

// Close stops the background sweeper.
func (b *InmemBackend) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Put stores an entry, replacing any existing value for the key.
func (b *InmemBackend) Put(ctx context.Context, entry *physical.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.maxValueSize > 0 && len(entry.Value) > b.maxValueSize {
		return physical.ErrValueTooLarge
	}

	stored := &physical.Entry{
		Key:       entry.Key,
		Value:     append([]byte(nil), entry.Value...),
		ExpiresAt: entry.ExpiresAt,
	}

	b.Lock()
	defer b.Unlock()
	b.root.Insert(entry.Key, stored)
	return nil
}

// Get returns the entry for a key, or (nil, nil) when the key is
// absent or its TTL has elapsed.
func (b *InmemBackend) Get(ctx context.Context, key string) (*physical.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.RLock()
	raw, ok := b.root.Get(key)
	b.RUnlock()
	if !ok {
		return nil, nil
	}

	entry := raw.(*physical.Entry)
	if entry.Expired(time.Now()) {
		b.Lock()
		b.root.Delete(key)
		b.Unlock()
		return nil, nil
	}

	return &physical.Entry{
		Key:       entry.Key,
		Value:     append([]byte(nil), entry.Value...),
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (b *InmemBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()
	b.root.Delete(key)
	return nil
}

// List returns the live keys under a prefix in lexicographic order.
func (b *InmemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()

	b.RLock()
	var keys []string
	b.root.WalkPrefix(prefix, func(key string, raw interface{}) bool {
		if !raw.(*physical.Entry).Expired(now) {
			keys = append(keys, key)
		}
		return false
	})
	b.RUnlock()

	return keys, nil
}

// sweep drops expired entries so that short-lived keys do not
// accumulate between reads.
func (b *InmemBackend) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			now := time.Now()

			b.Lock()
			var expired []string
			b.root.Walk(func(key string, raw interface{}) bool {
				if raw.(*physical.Entry).Expired(now) {
					expired = append(expired, key)
				}
				return false
			})
			for _, key := range expired {
				b.root.Delete(key)
			}
			b.Unlock()

			if len(expired) > 0 && b.logger != nil {
				b.logger.Debug("swept expired entries", log.Int("count", len(expired)))
			}
		}
	}
}
