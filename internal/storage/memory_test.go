package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNonceStore_SingleUse(t *testing.T) {
	s, err := NewMemoryNonceStore(0, 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutNonce(ctx, "client", "n1"))
	assert.Equal(t, 1, s.Len())

	got, err := s.ConsumeNonce(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, "n1", got)
	assert.Zero(t, s.Len())

	_, err = s.ConsumeNonce(ctx, "client")
	assert.ErrorIs(t, err, ErrNonceNotFound)
}

func TestMemoryNonceStore_Replace(t *testing.T) {
	s, err := NewMemoryNonceStore(0, 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutNonce(ctx, "client", "old"))
	require.NoError(t, s.PutNonce(ctx, "client", "new"))

	got, err := s.ConsumeNonce(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestMemoryNonceStore_ExpiredIsConsumed(t *testing.T) {
	s, err := NewMemoryNonceStore(0, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.PutNonce(ctx, "client", "n1"))

	s.now = func() time.Time { return now.Add(time.Hour) }
	_, err = s.ConsumeNonce(ctx, "client")
	assert.ErrorIs(t, err, ErrNonceNotFound)
	assert.Zero(t, s.Len())
}

func TestMemoryNonceStore_CapacityEvictsOldest(t *testing.T) {
	s, err := NewMemoryNonceStore(3, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.PutNonce(ctx, fmt.Sprintf("c%d", i), fmt.Sprintf("n%d", i)))
	}
	assert.Equal(t, 3, s.Len())

	_, err = s.ConsumeNonce(ctx, "c0")
	assert.ErrorIs(t, err, ErrNonceNotFound)

	got, err := s.ConsumeNonce(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, "n3", got)
}
