package webchat

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxcollect/internal/channel"
	"github.com/ent0n29/voxcollect/internal/protocol"
)

// echoHandler answers every command with a text and every button with a
// keyboard, and reports uploads on a channel.
type echoHandler struct {
	uploads chan channel.Event
}

func (h *echoHandler) Dispatch(ctx context.Context, ch channel.Channel, ev channel.Event) {
	switch ev.Kind {
	case channel.KindTextCommand:
		_ = ch.SendText(ctx, ev.ChatID, "got "+ev.Command)
	case channel.KindButtonCallback:
		_ = ch.SendButtons(ctx, ev.ChatID, "pressed "+ev.Data, [][]channel.Button{{{Label: "Accept", Data: "accept"}}})
	case channel.KindFileUpload:
		h.uploads <- ev
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestGatewayRoundTrip(t *testing.T) {
	h := &echoHandler{uploads: make(chan channel.Event, 1)}
	g := New(h, Options{})
	srv := httptest.NewServer(g)
	defer srv.Close()

	ws := dial(t, srv, "user_id=web-1")
	defer ws.Close()

	ready := readJSON(t, ws)
	if ready["type"] != string(protocol.TypeSystemEvent) || ready["user_id"] != "web-1" {
		t.Fatalf("first message = %v, want session_ready for web-1", ready)
	}

	if err := ws.WriteJSON(protocol.ClientCommand{Type: protocol.TypeClientCommand, Command: "start"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readJSON(t, ws); msg["type"] != string(protocol.TypeServerText) || msg["text"] != "got start" {
		t.Fatalf("reply = %v, want server_text got start", msg)
	}

	if err := ws.WriteJSON(protocol.ClientButton{Type: protocol.TypeClientButton, Data: "male"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	msg := readJSON(t, ws)
	if msg["type"] != string(protocol.TypeServerButtons) {
		t.Fatalf("reply = %v, want server_buttons", msg)
	}
	rows, _ := msg["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %v, want one row", msg["rows"])
	}

	pcm := base64.StdEncoding.EncodeToString([]byte{0, 0, 1, 0})
	if err := ws.WriteJSON(protocol.ClientAudio{Type: protocol.TypeClientAudio, Format: "pcm16", AudioBase64: pcm, SampleRate: 16000}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	select {
	case ev := <-h.uploads:
		if ev.Upload.Extension() != "wav" || ev.UserID != "web-1" {
			t.Fatalf("upload = %+v ext %s", ev, ev.Upload.Extension())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("upload not dispatched")
	}
}

func TestGatewayRejectsInvalidMessage(t *testing.T) {
	g := New(&echoHandler{}, Options{})
	srv := httptest.NewServer(g)
	defer srv.Close()

	ws := dial(t, srv, "")
	defer ws.Close()
	ready := readJSON(t, ws)
	if id, _ := ready["user_id"].(string); !strings.HasPrefix(id, "web-") {
		t.Fatalf("assigned user id = %v, want web- prefix", ready["user_id"])
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_audio","format":"exe","audio_base64":"AQID"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if msg := readJSON(t, ws); msg["type"] != string(protocol.TypeErrorEvent) {
		t.Fatalf("reply = %v, want error_event", msg)
	}
}

func TestGatewayReplacesForeignUserID(t *testing.T) {
	g := New(&echoHandler{}, Options{})
	srv := httptest.NewServer(g)
	defer srv.Close()

	for _, claimed := range []string{"42", "web-"} {
		ws := dial(t, srv, "user_id="+claimed)
		ready := readJSON(t, ws)
		ws.Close()
		id, _ := ready["user_id"].(string)
		if id == claimed || !strings.HasPrefix(id, UserIDPrefix) || len(id) <= len(UserIDPrefix) {
			t.Fatalf("claimed %q, assigned %q, want a fresh web- id", claimed, id)
		}
	}
}

func TestSendToDisconnectedUser(t *testing.T) {
	g := New(&echoHandler{}, Options{})
	if err := g.SendText(context.Background(), "nobody", "hi"); err != ErrNotConnected {
		t.Fatalf("SendText() error = %v, want ErrNotConnected", err)
	}
	if g.Connected("nobody") {
		t.Fatalf("Connected() = true for unknown user")
	}
}

func TestCheckOriginRejectsForeignSite(t *testing.T) {
	g := New(&echoHandler{}, Options{})
	req := httptest.NewRequest("GET", "http://voxcollect.local/v1/chat/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	if g.upgrader.CheckOrigin(req) {
		t.Fatalf("CheckOrigin() = true for a foreign origin")
	}
	req.Header.Set("Origin", "http://voxcollect.local")
	if !g.upgrader.CheckOrigin(req) {
		t.Fatalf("CheckOrigin() = false for same origin")
	}
}
