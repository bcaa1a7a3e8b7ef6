package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(server.Close)

	// HTTP URLをWebSocket URLに変換
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestServeWs_Connection(t *testing.T) {
	hub := startHub(t, newTestLedger(t))
	wsURL := newTestServer(t, hub)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServeWs_RejectsPlainHTTP(t *testing.T) {
	hub := startHub(t, newTestLedger(t))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	ServeWs(hub, rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestClient_ReceivesEveryChange(t *testing.T) {
	l := newTestLedger(t)
	hub := startHub(t, l)
	wsURL := newTestServer(t, hub)

	// 2つのクライアントを接続
	conn1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn1.Close()
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn2.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	id, err := l.Append(ctx, "alice", "Hello from Alice!")
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"MessageUpdated"}`, string(msg))
	}

	// 削除でも通知される
	require.NoError(t, l.Delete(ctx, "alice", id))
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn1.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "MessageUpdated")
}

func TestClient_Disconnect(t *testing.T) {
	hub := startHub(t, newTestLedger(t))
	wsURL := newTestServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// 接続を閉じる
	conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestNewClient(t *testing.T) {
	hub := NewHub(newTestLedger(t), zerolog.Nop())

	client := NewClient(hub, nil)

	assert.Same(t, hub, client.hub)
	assert.NotEmpty(t, client.id)
	assert.NotNil(t, client.send)
}
