package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollpulse/internal/broadcast"
	"github.com/pscheid92/pollpulse/internal/database"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/pscheid92/pollpulse/internal/polls"
	"github.com/pscheid92/pollpulse/internal/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// TestScenario_VoteFanoutAndDrain runs the whole stack against a real redis
// and a sqlite store.
func TestScenario_VoteFanoutAndDrain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })
	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb, err := redis.NewClient(ctx, "redis://"+endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "scenario.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewSQLitePollRepo(db)
	cache := redis.NewPollCache(rdb)
	pending := redis.NewPendingWrites(rdb)
	bus := redis.NewBus(rdb)

	service := polls.NewService(repo, cache, bus)
	coordinator := polls.NewCoordinator(service, cache, bus, pending)
	drainer := polls.NewDrainer(cache, repo, pending, clockwork.NewRealClock())
	registry := broadcast.NewRegistry(bus, clockwork.NewRealClock(), time.Minute, 10)
	t.Cleanup(registry.Stop)

	srv := NewServer(testConfig(), service, coordinator, registry, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	announcements, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/polls/new", nil)
	require.NoError(t, err)
	defer announcements.Close()
	require.Eventually(t, func() bool { return registry.ViewerCount(broadcast.NewPollsKey) == 1 }, 5*time.Second, 10*time.Millisecond)

	// create
	resp, err := http.Post(ts.URL+"/api/polls", "application/json", strings.NewReader(`{"prompt":"A or B?","choices":["A","B"]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created domain.Poll
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	_ = announcements.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, announced, err := announcements.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, created.ID, string(announced))

	// the cache starts at zero
	raw, err := cache.ReadRaw(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Counts{"total": 0, "choice:0": 0, "choice:1": 0}, raw)

	viewer, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/polls/"+created.ID, nil)
	require.NoError(t, err)
	defer viewer.Close()
	_ = viewer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, snapshot, err := viewer.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":0,"choice:0":0,"choice:1":0}`, string(snapshot))

	// vote for B
	resp, err = http.Post(ts.URL+"/api/polls/"+created.ID+"/vote", "application/json", strings.NewReader(`{"choice":1}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, update, err := viewer.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":1,"choice:0":0,"choice:1":1}`, string(update))

	// out of range is rejected and changes nothing
	resp, err = http.Post(ts.URL+"/api/polls/"+created.ID+"/vote", "application/json", strings.NewReader(`{"choice":5}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	raw, err = cache.ReadRaw(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Counts{"total": 1, "choice:0": 0, "choice:1": 1}, raw)

	// write-behind persists the counts
	stats, err := drainer.DrainPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Flushed)

	stored, err := repo.GetPoll(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Total)
	assert.Equal(t, int64(0), stored.Choices[0].Count)
	assert.Equal(t, int64(1), stored.Choices[1].Count)

	// unknown polls are refused on the viewer socket
	unknown, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/polls/does-not-exist", nil)
	require.NoError(t, err)
	defer unknown.Close()
	_ = unknown.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := unknown.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "invalid id", string(msg))

	service.Wait()
}
