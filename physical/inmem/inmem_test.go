package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/bastion/logger"
	"github.com/stephnangue/bastion/physical"
)

func testBackend(t *testing.T) *InmemBackend {
	t.Helper()
	b := NewInmemBackend(logger.NewTestLogger())
	t.Cleanup(b.Close)
	return b
}

func TestInmemPutGetDelete(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	entry, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, b.Put(ctx, &physical.Entry{Key: "tenant:acme", Value: []byte("v1")}))

	entry, err = b.Get(ctx, "tenant:acme")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("v1"), entry.Value)

	// Overwrite.
	require.NoError(t, b.Put(ctx, &physical.Entry{Key: "tenant:acme", Value: []byte("v2")}))
	entry, err = b.Get(ctx, "tenant:acme")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), entry.Value)

	require.NoError(t, b.Delete(ctx, "tenant:acme"))
	entry, err = b.Get(ctx, "tenant:acme")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Deleting an absent key is fine.
	require.NoError(t, b.Delete(ctx, "tenant:acme"))
}

func TestInmemTTL(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	require.NoError(t, physical.PutWithTTL(ctx, b, "session:s1", []byte("live"), time.Hour))
	require.NoError(t, b.Put(ctx, &physical.Entry{
		Key:       "session:s2",
		Value:     []byte("dead"),
		ExpiresAt: time.Now().Add(-time.Second),
	}))

	entry, err := b.Get(ctx, "session:s1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	entry, err = b.Get(ctx, "session:s2")
	require.NoError(t, err)
	assert.Nil(t, entry, "expired entry must read as absent")

	keys, err := b.List(ctx, "session:")
	require.NoError(t, err)
	assert.Equal(t, []string{"session:s1"}, keys)
}

func TestInmemListPrefix(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	for _, key := range []string{
		"audit:acme:1:a",
		"audit:acme:2:b",
		"audit:globex:1:c",
		"tenant:acme",
	} {
		require.NoError(t, b.Put(ctx, &physical.Entry{Key: key, Value: []byte("x")}))
	}

	keys, err := b.List(ctx, "audit:acme:")
	require.NoError(t, err)
	assert.Equal(t, []string{"audit:acme:1:a", "audit:acme:2:b"}, keys)

	keys, err = b.List(ctx, "audit:")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	keys, err = b.List(ctx, "nothing:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInmemMaxValueSize(t *testing.T) {
	b := NewInmemBackend(logger.NewTestLogger(), WithMaxValueSize(8))
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, &physical.Entry{Key: "k", Value: []byte("12345678")}))
	err := b.Put(ctx, &physical.Entry{Key: "k", Value: []byte("123456789")})
	assert.ErrorIs(t, err, physical.ErrValueTooLarge)
}

func TestInmemContextCanceled(t *testing.T) {
	b := testBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, b.Put(ctx, &physical.Entry{Key: "k", Value: []byte("v")}))
	_, err := b.Get(ctx, "k")
	assert.Error(t, err)
	_, err = b.List(ctx, "")
	assert.Error(t, err)
	assert.Error(t, b.Delete(ctx, "k"))
}

func TestInmemValueIsolation(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	value := []byte("original")
	require.NoError(t, b.Put(ctx, &physical.Entry{Key: "k", Value: value}))
	value[0] = 'X'

	entry, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), entry.Value)

	// Mutating the returned copy must not affect the stored value.
	entry.Value[0] = 'Y'
	entry, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), entry.Value)
}
