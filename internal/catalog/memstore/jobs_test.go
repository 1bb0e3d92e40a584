package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

func TestJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := New().Jobs()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.t.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := repo.Create(ctx, "https://shop.example/woman-shirts-l1.html")
	require.NoError(t, err)
	second, err := repo.Create(ctx, "https://shop.example/shirt-p123.html")
	require.NoError(t, err)
	assert.Equal(t, catalog.JobPending, first.Status)

	// Complete from PENDING is not allowed.
	assert.ErrorIs(t, repo.Complete(ctx, first.ID, 1), catalog.ErrInvalidTransition)

	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID, "oldest job first")
	assert.Equal(t, catalog.JobProcessing, claimed.Status)

	require.NoError(t, repo.Complete(ctx, first.ID, 7))
	assert.ErrorIs(t, repo.Fail(ctx, first.ID, "late"), catalog.ErrInvalidTransition)

	claimed, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)
	require.NoError(t, repo.Fail(ctx, second.ID, "navigation timeout"))

	claimed, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed, "failed jobs are not picked up again")

	got, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobDone, got.Status)
	assert.Equal(t, 7, got.ProductsSaved)

	got, err = repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobFailed, got.Status)
	assert.Equal(t, "navigation timeout", got.Error)

	require.NoError(t, repo.Retry(ctx, second.ID))
	assert.ErrorIs(t, repo.Retry(ctx, first.ID), catalog.ErrInvalidTransition)

	got, err = repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.JobPending, got.Status)
	assert.Empty(t, got.Error)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[catalog.JobDone])
	assert.Equal(t, 1, stats[catalog.JobPending])

	jobs, err := repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, second.ID, jobs[0].ID, "newest first")
}

func TestJobRepository_NotFound(t *testing.T) {
	repo := New().Jobs()
	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.ErrorIs(t, repo.Retry(context.Background(), uuid.New()), catalog.ErrNotFound)
}
