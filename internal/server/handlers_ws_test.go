package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollpulse/internal/broadcast"
	"github.com/pscheid92/pollpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSocketServer(t *testing.T, svc pollService, registry viewerRegistry) string {
	t.Helper()
	srv := newTestServer(t, withPolls(svc), withRegistry(registry))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

func newTestRegistry(t *testing.T, sub domain.Subscriber) *broadcast.Registry {
	t.Helper()
	registry := broadcast.NewRegistry(sub, clockwork.NewRealClock(), time.Minute, 10)
	t.Cleanup(registry.Stop)
	return registry
}

func TestPollSocket_SnapshotThenUpdates(t *testing.T) {
	sub := newMemSubscriber()
	svc := &mockPollService{
		getRawFn: func(context.Context, string) (domain.Counts, error) {
			return domain.Counts{"total": 2, "choice:0": 2, "choice:1": 0}, nil
		},
	}
	url := newSocketServer(t, svc, newTestRegistry(t, sub))

	conn := dialSocket(t, url+"/ws/polls/p1")
	assert.JSONEq(t, `{"total":2,"choice:0":2,"choice:1":0}`, readFrame(t, conn))

	require.Eventually(t, func() bool { return sub.subscribed(domain.VoteTopic("p1")) }, 2*time.Second, 5*time.Millisecond)
	sub.publish(domain.VoteTopic("p1"), []byte(`{"total":3,"choice:0":2,"choice:1":1}`))
	assert.JSONEq(t, `{"total":3,"choice:0":2,"choice:1":1}`, readFrame(t, conn))
}

func TestPollSocket_UnknownPoll(t *testing.T) {
	url := newSocketServer(t, &mockPollService{}, &mockRegistry{
		attachFn: func(string, *websocket.Conn, []byte) error {
			t.Error("unknown poll must not be attached")
			return nil
		},
	})

	conn := dialSocket(t, url+"/ws/polls/missing")
	assert.Equal(t, "invalid id", readFrame(t, conn))

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestPollSocket_CacheUnavailable(t *testing.T) {
	svc := &mockPollService{
		getRawFn: func(context.Context, string) (domain.Counts, error) {
			return nil, errors.New("redis: connection refused")
		},
	}
	url := newSocketServer(t, svc, &mockRegistry{})

	conn := dialSocket(t, url+"/ws/polls/p1")
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))
}

func TestPollSocket_AttachRejected(t *testing.T) {
	svc := &mockPollService{
		getRawFn: func(context.Context, string) (domain.Counts, error) {
			return domain.Counts{"total": 0, "choice:0": 0, "choice:1": 0}, nil
		},
	}
	url := newSocketServer(t, svc, &mockRegistry{
		attachFn: func(string, *websocket.Conn, []byte) error {
			return broadcast.ErrChannelFull
		},
	})

	conn := dialSocket(t, url+"/ws/polls/p1")
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater))
}

func TestNewPollsSocket(t *testing.T) {
	sub := newMemSubscriber()
	registry := newTestRegistry(t, sub)
	url := newSocketServer(t, &mockPollService{}, registry)

	conn := dialSocket(t, url+"/ws/polls/new")

	require.Eventually(t, func() bool { return sub.subscribed(domain.NewPollTopic) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, registry.ViewerCount(broadcast.NewPollsKey))

	sub.publish(domain.NewPollTopic, []byte("fresh-id"))
	assert.Equal(t, "fresh-id", readFrame(t, conn))
}

func TestPollSocket_ClientCloseDetaches(t *testing.T) {
	sub := newMemSubscriber()
	registry := newTestRegistry(t, sub)
	svc := &mockPollService{
		getRawFn: func(context.Context, string) (domain.Counts, error) {
			return domain.Counts{"total": 0, "choice:0": 0, "choice:1": 0}, nil
		},
	}
	url := newSocketServer(t, svc, registry)

	conn := dialSocket(t, url+"/ws/polls/p1")
	readFrame(t, conn)
	require.Equal(t, 1, registry.ViewerCount("p1"))

	conn.Close()
	require.Eventually(t, func() bool { return registry.ChannelCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, sub.subscribed(domain.VoteTopic("p1")))
}

func TestPollSocket_RejectsForeignOrigin(t *testing.T) {
	url := newSocketServer(t, &mockPollService{}, &mockRegistry{})

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws/polls/p1", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
