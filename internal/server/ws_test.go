package server

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

func dialWS(t *testing.T, url, id string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/ws/research/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) research.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt research.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	return evt
}

func TestWSReplaysInitialState(t *testing.T) {
	srv, registry := testHarness(t)
	id := registry.Create("q")
	registry.UpdateAgentStatus(id, research.SlotSearch, research.AgentDone, "URL discovery complete")

	conn := dialWS(t, srv.URL, id)

	evt := readEvent(t, conn)
	if evt.Type != research.EventInitialState {
		t.Fatalf("first event must be initial_state, got %s", evt.Type)
	}
	if evt.Agents[research.SlotSearch].Status != research.AgentDone {
		t.Fatalf("initial_state must reflect slots updated before attach")
	}
	if len(evt.Agents) != len(research.AgentSlots()) {
		t.Fatalf("initial_state must carry every slot")
	}
}

func TestWSStreamsAgentUpdates(t *testing.T) {
	srv, registry := testHarness(t)
	id := registry.Create("q")

	conn := dialWS(t, srv.URL, id)
	if evt := readEvent(t, conn); evt.Type != research.EventInitialState {
		t.Fatalf("expected initial_state first, got %s", evt.Type)
	}

	registry.UpdateAgentStatus(id, string(research.PlatformWeb), research.AgentRunning, "Analyzing 1 web link(s)...")

	evt := readEvent(t, conn)
	if evt.Type != research.EventAgentUpdate || evt.AgentID != string(research.PlatformWeb) {
		t.Fatalf("expected web agent_update, got %+v", evt)
	}
	if evt.Status != research.AgentRunning {
		t.Fatalf("expected running status, got %s", evt.Status)
	}
}

func TestWSPingPong(t *testing.T) {
	srv, registry := testHarness(t)
	id := registry.Create("q")

	conn := dialWS(t, srv.URL, id)
	if evt := readEvent(t, conn); evt.Type != research.EventInitialState {
		t.Fatalf("expected initial_state first, got %s", evt.Type)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading pong: %v", err)
	}
	if string(data) != "pong" {
		t.Fatalf("expected pong, got %q", data)
	}
}

func TestWSCompletedSessionReplaysResult(t *testing.T) {
	srv, registry := testHarness(t)
	id := registry.Create("q")
	for _, slot := range research.AgentSlots() {
		registry.UpdateAgentStatus(id, slot, research.AgentDone, "")
	}
	registry.SetResult(id, "# Finished Report")
	registry.SetStatus(id, research.StatusCompleted)

	conn := dialWS(t, srv.URL, id)
	if evt := readEvent(t, conn); evt.Type != research.EventInitialState {
		t.Fatalf("expected initial_state first, got %s", evt.Type)
	}
	evt := readEvent(t, conn)
	if evt.Type != research.EventResearchComplete || evt.Result != "# Finished Report" {
		t.Fatalf("late observer of a finished run must get the result, got %+v", evt)
	}
}

func TestWSDisconnectDetaches(t *testing.T) {
	srv, registry := testHarness(t)
	id := registry.Create("q")

	conn := dialWS(t, srv.URL, id)
	if evt := readEvent(t, conn); evt.Type != research.EventInitialState {
		t.Fatalf("expected initial_state first, got %s", evt.Type)
	}
	conn.Close()

	// Updates after disconnect must apply without a live observer.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		registry.UpdateAgentStatus(id, research.SlotSearch, research.AgentRunning, "still working")
		time.Sleep(50 * time.Millisecond)
	}
	sess, _ := registry.Get(id)
	if sess.Agents[research.SlotSearch].Status != research.AgentRunning {
		t.Fatalf("registry must keep working after observer disconnect")
	}
}

func TestWSUnknownSession(t *testing.T) {
	srv, _ := testHarness(t)

	conn := dialWS(t, srv.URL, "does-not-exist")
	evt := readEvent(t, conn)
	if evt.Type != research.EventError {
		t.Fatalf("expected an error event for unknown session, got %s", evt.Type)
	}
}
