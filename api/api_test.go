package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suraj08832/collabstudy/api"
	"github.com/Suraj08832/collabstudy/client"
	"github.com/Suraj08832/collabstudy/config"
	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/service"
	"github.com/Suraj08832/collabstudy/store/sqlite"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 10 * time.Millisecond
	track       = "dQw4w9WgXcQ"
)

type testServer struct {
	api    *api.CollabAPI
	http   *httptest.Server
	wsURL  string
	cancel context.CancelFunc
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	sessionStore, err := sqlite.NewSQLiteSessionStore(ctx, filepath.Join(t.TempDir(), "collab.db"))
	require.NoError(t, err)

	cfg := &config.Config{
		Mode:    "release",
		DevMode: true,
		Relay:   config.RelayConfig{QueueSize: 256, MaxStrokeWidth: 20},
		WS:      config.WSConfig{ReadLimit: 16384, MessagesPerSecond: 1000, Burst: 1000},
		Archive: config.ArchiveConfig{BatchIntervalMs: 20},
		Stats:   config.StatsConfig{FlushIntervalMs: 20},
		Retention: config.RetentionConfig{
			Policy: "keep",
		},
	}

	collabAPI, err := api.NewCollabAPI(sessionStore, nil, nil, cfg, []byte("integration-secret"), ctx)
	require.NoError(t, err)

	r := api.SetupRouter(cfg.Mode)
	collabAPI.RegisterRoutes(r, "", cfg.DevMode)
	srv := httptest.NewServer(r)

	ts := &testServer{
		api:    collabAPI,
		http:   srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws",
		cancel: cancel,
	}
	t.Cleanup(func() {
		collabAPI.Service.Relay.Shutdown()
		cancel()
		srv.Close()
		collabAPI.Wait()
		sessionStore.Close()
	})
	return ts
}

func (ts *testServer) agent(t *testing.T, participantId string) *client.Agent {
	t.Helper()
	token, err := ts.api.Service.CreateJWT(participantId)
	require.NoError(t, err)

	agent := client.NewAgent(client.Config{
		Dial:   client.WebsocketDialer(ts.wsURL, token),
		Player: client.NewMemoryPlayer(nil),
	})
	t.Cleanup(agent.Close)
	return agent
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSession_EndToEnd(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()

	alice := ts.agent(t, "alice")
	require.NoError(t, alice.Join(ctx, "study"))
	assert.Equal(t, "alice", alice.ParticipantId())
	assert.Equal(t, uint64(1), alice.LastSequence())

	bob := ts.agent(t, "bob")
	require.NoError(t, bob.Join(ctx, "study"))
	assert.Equal(t, "bob", bob.ParticipantId())
	assert.Equal(t, uint64(2), bob.LastSequence())

	assert.Eventually(t, func() bool {
		_, ok := alice.Participants()["bob"]
		return ok
	}, waitTimeout, waitTick)

	require.NoError(t, alice.EmitStroke(models.Point{X: 0.1, Y: 0.1}, models.Point{X: 0.4, Y: 0.4}))
	assert.Eventually(t, func() bool { return len(bob.Strokes()) == 1 }, waitTimeout, waitTick)
	assert.Eventually(t, func() bool { return alice.PendingStrokes() == 0 && len(alice.Strokes()) == 1 }, waitTimeout, waitTick)
	assert.Equal(t, "alice", bob.Strokes()[0].ParticipantId)

	require.NoError(t, bob.EmitPlaybackCommand(client.PlayCommand{Locator: "https://www.youtube.com/watch?v=" + track}))
	assert.Eventually(t, func() bool { return alice.Playback().Track == track && alice.Playback().Playing }, waitTimeout, waitTick)

	var snap models.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, ts.http.URL+"/api/rooms/study/snapshot", &snap))
	assert.Equal(t, uint64(4), snap.Sequence)
	assert.Len(t, snap.Strokes, 1)
	assert.Len(t, snap.Participants, 2)

	resp, err := http.Get(ts.http.URL + "/api/rooms/study/export.pdf")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "%PDF-"))

	assert.Eventually(t, func() bool {
		var page service.ArchivePage
		if getJSON(t, ts.http.URL+"/api/rooms/study/events", &page) != http.StatusOK {
			return false
		}
		return len(page.Events) == 4 && page.Epoch == snap.Epoch
	}, waitTimeout, waitTick)

	assert.Eventually(t, func() bool {
		var stats models.RoomStats
		getJSON(t, ts.http.URL+"/api/rooms/study/stats", &stats)
		return stats.Draws == 1 && stats.PlaybackCommands == 1
	}, waitTimeout, waitTick)

	require.NoError(t, bob.Leave())
	assert.Eventually(t, func() bool {
		_, ok := alice.Participants()["bob"]
		return !ok
	}, waitTimeout, waitTick)
}

func TestSession_RejectsInvalidTokens(t *testing.T) {
	ts := startServer(t)

	agent := client.NewAgent(client.Config{Dial: client.WebsocketDialer(ts.wsURL, "not-a-token")})
	err := agent.Join(context.Background(), "study")
	assert.Error(t, err)
	assert.False(t, agent.Joined())
}

func TestRoutes(t *testing.T) {
	ts := startServer(t)

	resp, err := http.Get(ts.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.http.URL+"/api/rooms/nowhere/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.http.URL+"/api/rooms/nowhere/events", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.http.URL+"/api/rooms/nowhere/events?after=x", nil))

	resp, err = http.Post(ts.http.URL+"/api/token", "application/json", nil)
	require.NoError(t, err)
	var issued struct {
		ParticipantId string `json:"participantId"`
		Token         string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	resp.Body.Close()
	require.NotEmpty(t, issued.Token)

	participantId, _, err := ts.api.Service.VerifyJWT(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.ParticipantId, participantId)
}
