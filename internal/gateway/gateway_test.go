package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/auth"
	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/metrics"
	"github.com/PaulBabatuyi/roomchat/internal/realtime"

	"github.com/fasthttp/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	gw    *Gateway
	store *data.MemoryStore
	jwt   *auth.JWTManager
	url   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := data.NewMemoryStore()
	jm := auth.NewJWTManager("gateway-secret", time.Hour)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	presence := realtime.NewPresenceTracker(store, nil, nil, m)
	presence.Start(context.Background())
	t.Cleanup(presence.Close)

	mgr := realtime.NewManager(auth.NewAuthenticator(jm, store), store, realtime.NewRegistry(), presence, realtime.Options{Metrics: m})
	gw := New(mgr, Config{Gatherer: reg}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = gw.Serve(ln) }()
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	return &testServer{gw: gw, store: store, jwt: jm, url: "ws://" + ln.Addr().String() + "/ws"}
}

func (ts *testServer) user(t *testing.T, name string) (*data.User, string) {
	t.Helper()
	u, err := ts.store.CreateUser(context.Background(), name+"@example.com", name, "hash")
	require.NoError(t, err)
	tok, _, err := ts.jwt.GenerateToken(u.ID, u.Email)
	require.NoError(t, err)
	return u, tok
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(realtime.Envelope{Event: event, Data: raw}))
}

func expect(t *testing.T, conn *websocket.Conn, event string) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env realtime.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, event, env.Event, "payload: %s", env.Data)
	return env
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.gw.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string         `json:"status"`
		Stats  realtime.Stats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, realtime.Stats{}, body.Stats)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.gw.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roomchat_connections_active")
}

func TestPlainRequestNeedsUpgrade(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.gw.App().Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestRejectsBadToken(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts.url+"?token=garbage", nil)

	env := expect(t, conn, realtime.EventError)
	var p realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "authentication", p.Code)

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestChatOverWebsocket(t *testing.T) {
	ts := newTestServer(t)
	a, tokA := ts.user(t, "alice")
	b, tokB := ts.user(t, "bob")
	chat, _, err := ts.store.CreateChat(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	room := chat.ID.Hex()

	ca := dial(t, ts.url+"?token="+tokA, nil)
	cb := dial(t, ts.url, http.Header{"Authorization": []string{"Bearer " + tokB}})

	send(t, ca, realtime.EventJoinChat, room)
	expect(t, ca, realtime.EventJoinedChat)
	send(t, cb, realtime.EventJoinChat, map[string]string{"conversationId": room})
	expect(t, cb, realtime.EventJoinedChat)

	send(t, ca, realtime.EventSendMessage, realtime.SendMessage{ConversationID: room, Content: "hi", MessageType: "text"})
	var msgID string
	for _, c := range []*websocket.Conn{ca, cb} {
		env := expect(t, c, realtime.EventNewMessage)
		var view data.MessageView
		require.NoError(t, json.Unmarshal(env.Data, &view))
		assert.Equal(t, "hi", view.Content)
		assert.Equal(t, a.ID, view.Sender.ID)
		msgID = view.ID.Hex()
	}

	send(t, cb, realtime.EventMarkAsRead, realtime.MarkAsRead{ConversationID: room, MessageIDs: []string{msgID}})
	for _, c := range []*websocket.Conn{ca, cb} {
		env := expect(t, c, realtime.EventMessagesRead)
		var upd realtime.ReadUpdate
		require.NoError(t, json.Unmarshal(env.Data, &upd))
		assert.Equal(t, []string{msgID}, upd.MessageIDs)
		assert.Equal(t, b.ID.Hex(), upd.UserID)
	}

	send(t, ca, realtime.EventSendMessage, realtime.SendMessage{ConversationID: room, MessageType: "image"})
	env := expect(t, ca, realtime.EventError)
	var p realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "validation", p.Code)

	// disconnecting cleans the registry up
	require.NoError(t, ca.Close())
	require.NoError(t, cb.Close())
	require.Eventually(t, func() bool {
		return ts.gw.mgr.Stats() == realtime.Stats{}
	}, 3*time.Second, 10*time.Millisecond)
}
