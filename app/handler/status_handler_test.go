package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/store/db"
	redisstore "drpactor/pkg/store/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusStores(t *testing.T) (*db.StatusEventRepository, *redisstore.StatusRepository) {
	ds, err := db.NewDatastore(config.DatastoreConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "registry.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return db.NewStatusEventRepository(ds), redisstore.NewStatusRepository(redisstore.NewRedisClientFrom(client))
}

func TestStatusHandler_VisitStatus(t *testing.T) {
	history, cache := newStatusStores(t)
	ctx := context.Background()

	failed := model.StatusLine{Stage: model.StageIngest, Visit: 100, ReturnCode: 1, Status: model.StatusFailed, EmittedAt: time.Now().Add(-time.Minute)}
	ok := model.StatusLine{Stage: model.StageIngest, Visit: 100, Status: model.StatusOK, EmittedAt: time.Now()}
	for _, line := range []model.StatusLine{failed, ok} {
		require.NoError(t, history.Record(ctx, line))
		require.NoError(t, cache.SetLatest(ctx, line))
	}

	r := setupRouter(newFakeOrchestrator(), NewStatusHandler(history, cache))
	w := do(r, http.MethodGet, "/status/visit/100", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.VisitStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 100, resp.Visit)
	require.Len(t, resp.Latest, 1)
	assert.Equal(t, model.StatusOK, resp.Latest[0].Status)
	assert.Len(t, resp.History, 2)
}

func TestStatusHandler_NoStores(t *testing.T) {
	r := setupRouter(newFakeOrchestrator(), NewStatusHandler(nil, nil))

	w := do(r, http.MethodGet, "/status/visit/100", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"latest":[]`)

	w = do(r, http.MethodGet, "/status/stream", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusHandler_Stream(t *testing.T) {
	_, cache := newStatusStores(t)

	srv := httptest.NewServer(setupRouter(newFakeOrchestrator(), NewStatusHandler(nil, cache)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// the subscription is confirmed before the upgrade, publishing is safe now
	want := model.StatusLine{Stage: model.StageReduce, Visit: 100, Status: model.StatusOK, Elapsed: 12}
	require.NoError(t, cache.Publish(context.Background(), want))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got model.StatusLine
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, "reduceStatus=100,0,OK,12.0", got.Keyword())
}
