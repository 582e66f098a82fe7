package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

// WSHandler upgrades observer connections and bridges them onto a
// session's live channel.
type WSHandler struct {
	Cfg      *config.Config
	Registry *research.Registry
	Logger   *log.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser origins are already filtered by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle attaches one observer to a session. The pipeline never blocks
// on this connection: events flow through a buffered channel and the
// observer is detached the moment it cannot keep up or disconnects.
func (h *WSHandler) Handle(c echo.Context) error {
	id := c.Param("id")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ch := newWSChannel(conn)
	snapshot, ok := h.Registry.AttachChannel(id, ch)
	if !ok {
		h.Logger.Printf("observer attached to unknown session %s, closing", id)
		_ = conn.WriteJSON(research.ErrorEvent("session not found"))
		ch.close()
		return nil
	}
	h.Logger.Printf("observer attached to session %s", id)

	// Late attachers see the full slot snapshot before any live event.
	_ = ch.Send(research.InitialStateEvent(snapshot.Agents))
	if snapshot.Status == research.StatusCompleted && snapshot.Result != "" {
		_ = ch.Send(research.ResearchCompleteEvent(snapshot.Result))
	}

	heartbeat := h.Cfg.Server.HeartbeatEvery
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	go ch.writePump(heartbeat)

	// Read loop owns the connection lifetime. Clients send "ping" as an
	// application-level keep-alive and expect "pong" back.
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.TextMessage && string(data) == "ping" {
			ch.sendText("pong")
		}
	}

	h.Registry.DetachChannel(id)
	ch.close()
	h.Logger.Printf("observer detached from session %s", id)
	return nil
}

const wsSendBuffer = 64

// wsChannel adapts one websocket connection to the LiveChannel
// contract: Send never blocks the caller, writes are serialized on a
// single pump goroutine, and a full buffer counts as a broken channel.
type wsChannel struct {
	conn *websocket.Conn

	events chan research.Event
	texts  chan string

	closeOnce sync.Once
	done      chan struct{}
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		conn:   conn,
		events: make(chan research.Event, wsSendBuffer),
		texts:  make(chan string, 4),
		done:   make(chan struct{}),
	}
}

func (ch *wsChannel) Send(evt research.Event) error {
	select {
	case <-ch.done:
		return research.ErrChannelClosed
	case ch.events <- evt:
		return nil
	default:
		return research.ErrChannelFull
	}
}

func (ch *wsChannel) sendText(s string) {
	select {
	case <-ch.done:
	case ch.texts <- s:
	default:
	}
}

func (ch *wsChannel) close() {
	ch.closeOnce.Do(func() {
		close(ch.done)
		_ = ch.conn.Close()
	})
}

// writePump drains outbound events and emits a heartbeat whenever the
// connection has been idle for the configured interval.
func (ch *wsChannel) writePump(heartbeat time.Duration) {
	timer := time.NewTimer(heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-ch.done:
			return
		case evt := <-ch.events:
			if err := ch.conn.WriteJSON(evt); err != nil {
				ch.close()
				return
			}
		case s := <-ch.texts:
			if err := ch.conn.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
				ch.close()
				return
			}
		case <-timer.C:
			if err := ch.conn.WriteJSON(research.HeartbeatEvent()); err != nil {
				ch.close()
				return
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(heartbeat)
	}
}
