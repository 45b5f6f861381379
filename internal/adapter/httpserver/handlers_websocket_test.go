package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, server *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func TestWebSocket_DeliversNotificationsAndAcceptsMarkRead(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts)
	t.Cleanup(server.Close)

	conn, _, err := dialWS(t, server, "userId=manager-1&connectionId=tab-1&role=manager&branchId=b1&username=Max")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.registry.ConnectionCount("manager-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := ts.do(t, http.MethodPost, "/api/notifications", map[string]any{
		"type": "inventory_update", "title": "Count", "message": "Cycle count done", "roles": []string{"manager"},
	}, clerk)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[deliveryResponse](t, rec).ID

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload domain.WirePayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, id, payload.ID)
	assert.False(t, payload.Read)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mark_read","notificationId":"`+id+`"}`)))
	assert.Eventually(t, func() bool { return ts.history.IsRead(id, "manager-1") }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ts.registry.ConnectionCount("manager-1"), "malformed frame keeps the connection open")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return ts.registry.ConnectionCount("manager-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_GeneratesConnectionID(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts)
	t.Cleanup(server.Close)

	_, _, err := dialWS(t, server, "userId=u1&role=cashier")
	require.NoError(t, err)
	_, _, err = dialWS(t, server, "userId=u1&role=cashier")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return ts.registry.ConnectionCount("u1") == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_RequiresUserID(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts)
	t.Cleanup(server.Close)

	_, resp, err := dialWS(t, server, "role=manager")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_ConnectionLimit(t *testing.T) {
	ts := newTestServer(t, withMaxConnections(1))
	server := httptest.NewServer(ts)
	t.Cleanup(server.Close)

	_, _, err := dialWS(t, server, "userId=u1&connectionId=a")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.registry.ConnectionCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, resp, err := dialWS(t, server, "userId=u1&connectionId=b")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?userId=u1"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.DialContext(context.Background(), url, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, ts.registry.ConnectionCount("u1"))
}

func TestWebSocket_ReconnectWithSameIDKeepsNewSocket(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts)
	t.Cleanup(server.Close)

	first, _, err := dialWS(t, server, "userId=u1&connectionId=tab")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.registry.ConnectionCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, _, err = dialWS(t, server, "userId=u1&connectionId=tab")
	require.NoError(t, err)

	// The first socket is closed server-side when replaced; its read loop
	// must not take the replacement down with it.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = first.ReadMessage()
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ts.registry.ConnectionCount("u1"))
	assert.True(t, ts.registry.IsConnected("u1", "tab"))
}
