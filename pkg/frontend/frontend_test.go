package frontend

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

	"github.com/tinyland-inc/meshchat/pkg/bus"
	"github.com/tinyland-inc/meshchat/pkg/messenger"
	"github.com/tinyland-inc/meshchat/pkg/model"
	"github.com/tinyland-inc/meshchat/pkg/overlay"
	"github.com/tinyland-inc/meshchat/pkg/storage"
)

type stubMesh struct{}

func (stubMesh) ConnectToNetwork(_ context.Context, token string) error {
	if token == "bad" {
		return overlay.ErrInvalidToken
	}
	return nil
}

func (stubMesh) Token() string { return "stub-token" }

type uiFrame struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type uiClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func startUI(t *testing.T) (*uiClient, *messenger.Messenger) {
	t.Helper()
	b := bus.New(0)
	t.Cleanup(b.Close)

	msgr := messenger.New(1, b, storage.New(1), stubMesh{})
	f := New(msgr)

	mux := http.NewServeMux()
	f.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connection"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return &uiClient{t: t, ws: ws}, msgr
}

func (c *uiClient) send(req map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(req))
}

func (c *uiClient) next() uiFrame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f uiFrame
	require.NoError(c.t, c.ws.ReadJSON(&f))
	return f
}

func TestFreshNodeAsksForRegistration(t *testing.T) {
	c, _ := startUI(t)
	assert.Equal(t, "require_registration", c.next().Kind)
}

func TestRegisterOverProtocol(t *testing.T) {
	c, msgr := startUI(t)
	c.next()

	c.send(map[string]any{"kind": "register", "username": "alice", "name": "Alice"})
	f := c.next()
	require.Equal(t, "registered", f.Kind)

	var u model.User
	require.NoError(t, json.Unmarshal(f.Data, &u))
	assert.Equal(t, "alice", u.Username)
	assert.True(t, msgr.Registered())

	// A second registration is refused.
	c.send(map[string]any{"kind": "register", "username": "again"})
	assert.Equal(t, "error_occurred", c.next().Kind)
}

func TestGenerateTokenOverProtocol(t *testing.T) {
	c, _ := startUI(t)
	c.next()

	c.send(map[string]any{"kind": "generate_token"})
	f := c.next()
	require.Equal(t, "receive_token", f.Kind)
	assert.Contains(t, string(f.Data), "stub-token")
}

func TestConnectWithInvalidToken(t *testing.T) {
	c, _ := startUI(t)
	c.next()

	c.send(map[string]any{"kind": "connect", "token": "bad"})
	assert.Equal(t, "invalid_token", c.next().Kind)
}

func TestUnknownRequestKind(t *testing.T) {
	c, _ := startUI(t)
	c.next()

	c.send(map[string]any{"kind": "frobnicate"})
	assert.Equal(t, "error_occurred", c.next().Kind)
}

func TestMalformedRequest(t *testing.T) {
	c, _ := startUI(t)
	c.next()

	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "error_occurred", c.next().Kind)
}

func TestChatHistoryOverProtocol(t *testing.T) {
	c, msgr := startUI(t)
	c.next()

	c.send(map[string]any{"kind": "register", "username": "alice"})
	c.next()

	require.NoError(t, msgr.Store().AddUser(model.User{ID: 2, Username: "bob"}))
	require.NoError(t, msgr.Store().AddChat(model.Chat{ID: 10, Members: [2]model.ID{1, 2}}))

	c.send(map[string]any{"kind": "send_message", "chat_id": 10, "text": "hello"})
	assert.Equal(t, "message_sent", c.next().Kind)

	c.send(map[string]any{"kind": "change_chat", "chat_id": 10})
	f := c.next()
	require.Equal(t, "chat_history", f.Kind)
	assert.Contains(t, string(f.Data), "hello")
}
