package redis

import (
	"context"
	"testing"
	"time"

	"drpactor/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*StatusRepository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStatusRepository(NewRedisClientFrom(client)), mr
}

func TestStatusRepository_Latest(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	line, err := repo.GetLatest(ctx, model.StageIngest, 100)
	require.NoError(t, err)
	assert.Nil(t, line)

	require.NoError(t, repo.SetLatest(ctx, model.StatusLine{Stage: model.StageIngest, Visit: 100, Status: model.StatusFailed, ReturnCode: -1}))
	require.NoError(t, repo.SetLatest(ctx, model.StatusLine{Stage: model.StageIngest, Visit: 100, Status: model.StatusOK}))

	line, err = repo.GetLatest(ctx, model.StageIngest, 100)
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, model.StatusOK, line.Status)
	assert.True(t, mr.Exists("drp:status:ingest:100"))
	assert.Greater(t, mr.TTL("drp:status:ingest:100"), time.Duration(0))
}

func TestStatusRepository_PubSub(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	lines, cancel, err := repo.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, repo.Publish(ctx, model.StatusLine{Stage: model.StageReduce, Visit: 7, Status: model.StatusOK}))

	select {
	case line := <-lines:
		assert.Equal(t, model.StageReduce, line.Stage)
		assert.Equal(t, 7, line.Visit)
	case <-time.After(2 * time.Second):
		t.Fatal("no status received")
	}
}
