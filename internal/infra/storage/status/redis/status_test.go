package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/stationsnap/internal/domain/jobs"
	"github.com/ahrav/stationsnap/internal/infra/storage"
	"github.com/ahrav/stationsnap/pkg/common/uuid"
)

func setupStatusTest(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *statusStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 32})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewStatusStore(client, ttl, storage.NoOpTracer())
}

func TestStatusStore_Lifecycle(t *testing.T) {
	t.Parallel()
	_, store := setupStatusTest(t, 0)
	ctx := context.Background()

	jobID := uuid.New()
	started := time.Now().UTC()

	doc, err := store.CreateStatus(ctx, jobID, started)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatePending, doc.State())
	assert.True(t, started.Equal(doc.StartedAt()))

	again, err := store.CreateStatus(ctx, jobID, started.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, started.Equal(again.StartedAt()))

	doc, err = store.SetTotal(ctx, jobID, 2)
	require.NoError(t, err)
	total, ok := doc.Total()
	require.True(t, ok)
	assert.Equal(t, 2, total)

	_, err = store.SetTotal(ctx, jobID, 3)
	assert.ErrorIs(t, err, jobs.ErrTotalAlreadySet)

	res, err := store.RecordCompletion(ctx, jobID, "a")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, res.Status.Completed())

	res, err = store.RecordCompletion(ctx, jobID, "a")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 1, res.Status.Completed())

	res, err = store.RecordCompletion(ctx, jobID, "b")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStateCompleted, res.Status.State())
	_, done := res.Status.CompletedAt()
	assert.True(t, done)

	_, err = store.RecordCompletion(ctx, jobID, "c")
	assert.ErrorIs(t, err, jobs.ErrCompletionOverflow)

	loaded, err := store.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Completed())
	assert.Equal(t, jobs.JobStateCompleted, loaded.State())
}

func TestStatusStore_UnknownJob(t *testing.T) {
	t.Parallel()
	_, store := setupStatusTest(t, 0)
	ctx := context.Background()

	_, err := store.GetStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	_, err = store.RecordCompletion(ctx, uuid.New(), "a")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	_, err = store.SetTotal(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	assert.NoError(t, store.Ping(ctx))
}

func TestStatusStore_CompletionsBeforeTotal(t *testing.T) {
	t.Parallel()
	_, store := setupStatusTest(t, 0)
	ctx := context.Background()

	jobID := uuid.New()
	_, err := store.CreateStatus(ctx, jobID, time.Now())
	require.NoError(t, err)

	for _, key := range []string{"a", "b"} {
		res, err := store.RecordCompletion(ctx, jobID, key)
		require.NoError(t, err)
		assert.Equal(t, jobs.JobStatePending, res.Status.State())
	}

	doc, err := store.SetTotal(ctx, jobID, 1)
	require.NoError(t, err)
	total, _ := doc.Total()
	assert.Equal(t, 2, total)
	assert.Equal(t, jobs.JobStateCompleted, doc.State())
}

func TestStatusStore_ConcurrentCompletions(t *testing.T) {
	t.Parallel()
	_, store := setupStatusTest(t, 0)
	ctx := context.Background()

	const items = 100
	jobID := uuid.New()
	_, err := store.CreateStatus(ctx, jobID, time.Now())
	require.NoError(t, err)
	_, err = store.SetTotal(ctx, jobID, items)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range items {
		key := fmt.Sprintf("item-%d", i)
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.RecordCompletion(ctx, jobID, key)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	doc, err := store.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, items, doc.Completed())
	assert.Equal(t, jobs.JobStateCompleted, doc.State())
}

func TestStatusStore_KeysExpire(t *testing.T) {
	t.Parallel()
	mr, store := setupStatusTest(t, time.Hour)
	ctx := context.Background()

	jobID := uuid.New()
	_, err := store.CreateStatus(ctx, jobID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(jobKey(jobID)))

	mr.FastForward(2 * time.Hour)

	_, err = store.GetStatus(ctx, jobID)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}
