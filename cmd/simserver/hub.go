package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// hub fans a snapshot out to every connected websocket client. Grounded
// on the register/unregister/broadcast-channel shape common to gorilla
// websocket servers: one goroutine owns client bookkeeping, writers never
// touch the map directly.
type hub struct {
	log *logrus.Entry

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
}

func newHub(log *logrus.Entry) *hub {
	return &hub{
		log:        log,
		clients:    make(map[*websocket.Conn]chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 16),
	}
}

func (h *hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = make(chan []byte, 8)
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if ch, ok := h.clients[conn]; ok {
				close(ch)
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			_ = conn.Close()

		case payload := <-h.broadcast:
			h.mu.Lock()
			for conn, ch := range h.clients {
				select {
				case ch <- payload:
				default:
					h.log.WithField("remote", conn.RemoteAddr()).Warn("dropping slow websocket client")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *hub) publishJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Error("marshal streaming event")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("broadcast channel full, dropping event")
	}
}

func (h *hub) publishRedis(ctx context.Context, rc *redis.Client, channel string, v interface{}, log *logrus.Entry) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("marshal redis event")
		return
	}
	if err := rc.Publish(ctx, channel, payload).Err(); err != nil {
		log.WithError(err).Warn("publish event to redis")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 8) / 10
)

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.register <- conn
	h.mu.Lock()
	ch := h.clients[conn]
	h.mu.Unlock()

	go h.readPump(conn)
	h.writePump(conn, ch)
}

// readPump drains and discards client frames, purely to detect
// disconnects and keep the read deadline fed by pong replies.
func (h *hub) readPump(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) writePump(conn *websocket.Conn, ch chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
