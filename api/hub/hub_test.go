package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appcore/api/model"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := New(nil, nil)
	go h.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnect))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestPublishScopedToWorkspace(t *testing.T) {
	h, srv := startHub(t)
	mine := dial(t, srv, "workspace=ws-1")
	other := dial(t, srv, "workspace=ws-2")
	waitClients(t, h, 2)

	require.NoError(t, h.Publish(context.Background(), "ws-1", &model.ApplicationEvent{ApplicationID: "a1", Type: model.EventDeploymentStarted}))

	m := readMessage(t, mine)
	assert.Equal(t, "ws-1", m.WorkspaceID)
	assert.Equal(t, model.EventDeploymentStarted, m.Event.Type)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "other workspace must not receive the event")
}

func TestPublishFiltersByApplication(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv, "workspace=ws-1&app=a2")
	waitClients(t, h, 1)

	require.NoError(t, h.Publish(context.Background(), "ws-1", &model.ApplicationEvent{ApplicationID: "a1", Type: "x"}))
	require.NoError(t, h.Publish(context.Background(), "ws-1", &model.ApplicationEvent{ApplicationID: "a2", Type: "y"}))

	m := readMessage(t, conn)
	assert.Equal(t, "a2", m.Event.ApplicationID)
}

func TestConnectRequiresWorkspace(t *testing.T) {
	_, srv := startHub(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestDisconnectUnregisters(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, srv, "workspace=ws-1")
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)
}

func TestCheckOrigin(t *testing.T) {
	h := New([]string{"https://console.example.com"}, nil)
	check := h.upgrader.CheckOrigin

	r := httptest.NewRequest("GET", "/", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://console.example.com")
	assert.True(t, check(r))
	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))
}
