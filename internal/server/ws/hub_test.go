package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/engine"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		resp.Body.Close()
	})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func TestHubBroadcastsTransitions(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dialHub(t, srv)

	// The hello frame confirms registration before the first transition.
	var hello struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)

	hub.BroadcastTransition(engine.Transition{
		VirtualFloor: "0x1",
		From:         domain.StateActiveResultNone,
		To:           domain.StateActiveResultSet,
		Position:     domain.EventPosition{BlockNumber: 12, TxIndex: 0, LogIndex: 1},
	})

	var msg transitionMsg
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "floor_transition", msg.Type)
	assert.Equal(t, "0x1", msg.Payload.VirtualFloorID)
	assert.Equal(t, string(domain.StateActiveResultSet), msg.Payload.To)
	assert.Equal(t, uint64(12), msg.Payload.BlockNumber)
}

func TestHandleWSAfterHubStopped(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Run(ctx) }()
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	// The upgrade handshake still completes, but a stopped hub closes the
	// connection instead of parking the handler on the register channel.
	conn := dialHub(t, srv)
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, hub.clientCount())
}
