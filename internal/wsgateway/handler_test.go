package wsgateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duplexvoice/gateway/internal/session"
)

// dialTest spins up the handler on an httptest server and dials it.
func dialTest(t *testing.T, deps Deps) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(NewHandler(deps))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return m
}

func TestPingEchoesTimestamp(t *testing.T) {
	conn, done := dialTest(t, Deps{})
	defer done()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","ts":1234}`))
	m := readMsg(t, conn)
	if m["type"] != "pong" || m["ts"] != float64(1234) {
		t.Fatalf("got %v, want pong echoing ts 1234", m)
	}
	if m["serverTs"] == nil {
		t.Fatalf("pong must carry serverTs")
	}
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	conn, done := dialTest(t, Deps{})
	defer done()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`))
	m := readMsg(t, conn)
	if m["type"] != "error" || m["code"] != "UNKNOWN_MESSAGE" || m["recoverable"] != true {
		t.Fatalf("got %v, want recoverable UNKNOWN_MESSAGE error", m)
	}
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	conn, done := dialTest(t, Deps{})
	defer done()

	conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	m := readMsg(t, conn)
	if m["type"] != "error" || m["code"] != "PARSE_ERROR" {
		t.Fatalf("got %v, want PARSE_ERROR", m)
	}
}

func TestHelpCommandReturnsCommandResult(t *testing.T) {
	conn, done := dialTest(t, Deps{})
	defer done()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"command","name":"help"}`))
	m := readMsg(t, conn)
	if m["type"] != "command_result" || m["name"] != "help" {
		t.Fatalf("got %v, want a help command_result", m)
	}
}

func TestUnknownCommandReturnsErrorResult(t *testing.T) {
	conn, done := dialTest(t, Deps{})
	defer done()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"command","name":"frobnicate"}`))
	m := readMsg(t, conn)
	if m["type"] != "command_result" || m["name"] != "frobnicate" {
		t.Fatalf("got %v, want a command_result for the unknown command", m)
	}
	result, ok := m["result"].(map[string]any)
	if !ok || !strings.Contains(result["error"].(string), "Unknown command: /frobnicate") {
		t.Fatalf("got result %v, want an error naming the unknown command", m["result"])
	}
}

func TestSessionKeyChangeReplaysChatHistory(t *testing.T) {
	history := session.NewHistory()
	history.Append("alt", "user", "an earlier question")
	history.Append("alt", "assistant", "an earlier answer")

	conn, done := dialTest(t, Deps{History: history})
	defer done()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"config","settings":{"sessionKey":"alt"}}`))
	m := readMsg(t, conn)
	if m["type"] != "chat_history" || m["sessionKey"] != "alt" {
		t.Fatalf("got %v, want chat_history for alt", m)
	}
	msgs, ok := m["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("want the 2 stored messages replayed, got %v", m["messages"])
	}
}

func TestMessageFloodTripsRateLimiter(t *testing.T) {
	conn, done := dialTest(t, Deps{})
	defer done()

	for i := 0; i < 120; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","ts":1}`)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for i := 0; i < 120; i++ {
		m := readMsg(t, conn)
		if m["type"] == "error" && m["code"] == "RATE_LIMITED" {
			return
		}
	}
	t.Fatalf("no RATE_LIMITED error observed after 120 rapid messages")
}
