package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cabinworks/cabin-audio-core/internal/auth"
	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

// wsReadTimeout bounds each expected read in WebSocket tests.
const wsReadTimeout = 2 * time.Second

// dialWS connects a WebSocket client to the test server with the token
// passed as a query parameter, the way cabin displays connect.
func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}
	return msg
}

func subscribeWS(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("writing subscribe: %v", err)
	}

	resp := readWSMessage(t, conn)
	if resp.Type != WSTypeResponse {
		t.Fatalf("got message type %q, want %q", resp.Type, WSTypeResponse)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	srv := newTestServer(t, newFakeController())
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil) //nolint:bodyclose // handshake rejected, no body to drain
	if err == nil {
		t.Fatal("expected handshake failure without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got response %+v, want status %d", resp, http.StatusUnauthorized)
	}
}

func TestWebSocket_VolumeChangedBroadcast(t *testing.T) {
	srv := newTestServer(t, newFakeController())
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	conn := dialWS(t, ts, testToken(t, auth.RoleUser))
	subscribeWS(t, conn, "volume.changed")

	if got := srv.hub.ClientCount(); got != 1 {
		t.Fatalf("got %d clients, want 1", got)
	}

	srv.broadcastVolumeChange(volume.StreamMedia, 12, volume.FlagShowUI|volume.FlagFromKey)

	msg := readWSMessage(t, conn)
	if msg.Type != WSTypeEvent {
		t.Fatalf("got message type %q, want %q", msg.Type, WSTypeEvent)
	}
	if msg.EventType != "volume.changed" {
		t.Errorf("got event type %q, want %q", msg.EventType, "volume.changed")
	}

	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("got payload %T, want object", msg.Payload)
	}
	if payload["stream"] != "media" {
		t.Errorf("got stream %v, want media", payload["stream"])
	}
	vol, ok := payload["volume"].(float64)
	if !ok || int(vol) != 12 {
		t.Errorf("got volume %v, want 12", payload["volume"])
	}
}

func TestWebSocket_PerStreamChannel(t *testing.T) {
	srv := newTestServer(t, newFakeController())
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	conn := dialWS(t, ts, testToken(t, auth.RoleUser))
	subscribeWS(t, conn, "volume.changed.navigation")

	// A media change must not reach this client; the navigation change
	// that follows must be the first thing it reads.
	srv.broadcastVolumeChange(volume.StreamMedia, 9, volume.FlagShowUI)
	srv.broadcastVolumeChange(volume.StreamNavigation, 30, volume.FlagShowUI)

	msg := readWSMessage(t, conn)
	if msg.EventType != "volume.changed.navigation" {
		t.Fatalf("got event type %q, want %q", msg.EventType, "volume.changed.navigation")
	}

	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("got payload %T, want object", msg.Payload)
	}
	if payload["stream"] != "navigation" {
		t.Errorf("got stream %v, want navigation", payload["stream"])
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv := newTestServer(t, newFakeController())
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	conn := dialWS(t, ts, testToken(t, auth.RoleUser))

	ping := WSMessage{Type: WSTypePing, ID: "ping-1"}
	if err := conn.WriteJSON(ping); err != nil {
		t.Fatalf("writing ping: %v", err)
	}

	msg := readWSMessage(t, conn)
	if msg.Type != WSTypePong {
		t.Errorf("got message type %q, want %q", msg.Type, WSTypePong)
	}
	if msg.ID != "ping-1" {
		t.Errorf("got message ID %q, want %q", msg.ID, "ping-1")
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	srv := newTestServer(t, newFakeController())
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	conn := dialWS(t, ts, testToken(t, auth.RoleUser))
	subscribeWS(t, conn, "volume.changed")

	unsub := WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"volume.changed"}},
	}
	if err := conn.WriteJSON(unsub); err != nil {
		t.Fatalf("writing unsubscribe: %v", err)
	}
	resp := readWSMessage(t, conn)
	if resp.Type != WSTypeResponse {
		t.Fatalf("got message type %q, want %q", resp.Type, WSTypeResponse)
	}

	// After unsubscribing nothing should arrive.
	srv.broadcastVolumeChange(volume.StreamMedia, 3, volume.FlagShowUI)

	if err := conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Fatalf("got unexpected message %+v after unsubscribe", msg)
	}
}

func TestWebSocket_UnknownMessageType(t *testing.T) {
	srv := newTestServer(t, newFakeController())
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	conn := dialWS(t, ts, testToken(t, auth.RoleUser))

	if err := conn.WriteJSON(WSMessage{Type: "teleport", ID: "x"}); err != nil {
		t.Fatalf("writing message: %v", err)
	}

	msg := readWSMessage(t, conn)
	if msg.Type != WSTypeError {
		t.Errorf("got message type %q, want %q", msg.Type, WSTypeError)
	}
}
