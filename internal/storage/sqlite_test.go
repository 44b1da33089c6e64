package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfgs ...SQLiteStoreConfig) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), cfgs...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNonce_ConsumeIsSingleUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutNonce(ctx, "10.0.0.1", "abc"))

	got, err := store.ConsumeNonce(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = store.ConsumeNonce(ctx, "10.0.0.1")
	assert.ErrorIs(t, err, ErrNonceNotFound)
}

func TestNonce_PutReplacesPrior(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutNonce(ctx, "client", "first"))
	require.NoError(t, store.PutNonce(ctx, "client", "second"))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM nonces`).Scan(&count))
	assert.Equal(t, 1, count)

	got, err := store.ConsumeNonce(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestNonce_KeysAreIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutNonce(ctx, "a", "nonce-a"))
	require.NoError(t, store.PutNonce(ctx, "b", "nonce-b"))

	got, err := store.ConsumeNonce(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "nonce-a", got)

	got, err = store.ConsumeNonce(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "nonce-b", got)
}

func TestNonce_ConcurrentConsumeHasOneWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutNonce(ctx, "client", "only-once"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeNonce(ctx, "client"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestNonce_Expiry(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{NonceTTL: time.Minute})
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }
	require.NoError(t, store.PutNonce(ctx, "client", "stale"))

	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err := store.ConsumeNonce(ctx, "client")
	assert.ErrorIs(t, err, ErrNonceNotFound)

	// The expired row is gone, not just hidden.
	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM nonces`).Scan(&count))
	assert.Zero(t, count)
}

func TestUpsertScore_NeverLowers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertScore(ctx, "alice", 50))
	require.NoError(t, store.UpsertScore(ctx, "alice", 30))

	records, err := store.ListScores(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].Username)
	assert.Equal(t, int64(50), records[0].Score)

	require.NoError(t, store.UpsertScore(ctx, "alice", 75))
	records, err = store.ListScores(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(75), records[0].Score)
}

func TestUpsertScore_ConcurrentConverges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		user := fmt.Sprintf("bob-%d", round)
		var wg sync.WaitGroup
		for _, score := range []int64{50, 80} {
			wg.Add(1)
			go func(score int64) {
				defer wg.Done()
				assert.NoError(t, store.UpsertScore(ctx, user, score))
			}(score)
		}
		wg.Wait()

		var count int
		var best int64
		require.NoError(t, store.db.QueryRow(
			`SELECT COUNT(*), MAX(score) FROM highscores WHERE username=?`, user).Scan(&count, &best))
		assert.Equal(t, 1, count)
		assert.Equal(t, int64(80), best)
	}
}

func TestListScores_Pagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, score := range []int64{70, 100, 80, 90} {
		require.NoError(t, store.UpsertScore(ctx, fmt.Sprintf("player%d", i), score))
	}

	records, err := store.ListScores(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(90), records[0].Score)
	assert.Equal(t, int64(80), records[1].Score)
}

func TestListScores_TiesInSubmissionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertScore(ctx, "first", 10))
	require.NoError(t, store.UpsertScore(ctx, "second", 10))
	require.NoError(t, store.UpsertScore(ctx, "third", 10))
	// Re-submitting must not move "first" behind the others.
	require.NoError(t, store.UpsertScore(ctx, "first", 10))

	records, err := store.ListScores(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "first", records[0].Username)
	assert.Equal(t, "second", records[1].Username)
	assert.Equal(t, "third", records[2].Username)
}

func TestBackup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertScore(ctx, "alice", 42))

	dest := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, store.Backup(ctx, dest))

	restored, err := NewSQLiteStore(dest)
	require.NoError(t, err)
	defer restored.Close()

	records, err := restored.ListScores(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(42), records[0].Score)
}
