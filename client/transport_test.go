package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suraj08832/collabstudy/client"
	"github.com/Suraj08832/collabstudy/protocol"
)

func TestWebsocketConn_CloseFlushesQueuedFrames(t *testing.T) {
	received := make(chan []string, 1)
	upgrader := websocket.Upgrader{Subprotocols: []string{protocol.Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var frames []string
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				break
			}
			frames = append(frames, string(frame))
		}
		received <- frames
	}))
	defer srv.Close()

	dial := client.WebsocketDialer("ws"+strings.TrimPrefix(srv.URL, "http"), "token")
	conn, err := dial(context.Background())
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		frame, err := protocol.Encode(protocol.TypeLeave, struct{}{})
		require.NoError(t, err)
		require.True(t, conn.Send(frame))
	}
	conn.Close()

	select {
	case frames := <-received:
		assert.Len(t, frames, n)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection close")
	}
	assert.False(t, conn.Send([]byte("{}")))
}
