package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/store"
)

const (
	writeWait  = 20 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Logger defines minimal logging interface required by the hub.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Event is the payload pushed to admin dashboards.
type Event struct {
	Type      string          `json:"type"`
	RequestID int64           `json:"request_id"`
	From      fsm.Status      `json:"from,omitempty"`
	To        fsm.Status      `json:"to"`
	Event     fsm.Event       `json:"event,omitempty"`
	Actor     lifecycle.Actor `json:"actor"`
	Request   store.Request   `json:"request"`
	At        time.Time       `json:"at"`
}

// FromResult converts a committed transition into a feed event.
func FromResult(res lifecycle.Result) Event {
	typ := "transition"
	if res.Event == "" {
		typ = "created"
	}
	return Event{
		Type:      typ,
		RequestID: res.Request.ID,
		From:      res.From,
		To:        res.To,
		Event:     res.Event,
		Actor:     res.Actor,
		Request:   res.Request,
		At:        res.Request.UpdatedAt,
	}
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Hub fans request transitions out to connected admin dashboards.
type Hub struct {
	logger   Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub constructs a Hub.
func NewHub(logger Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
}

// ServeWS upgrades an admin connection. Authentication happens in middleware.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.errorf("repair feed ws upgrade failed: %v", err)
		return
	}
	id := uuid.NewString()
	c := &conn{ws: ws}

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
	h.infof("repair feed %s connected", id)

	go h.pingLoop(id, c)
	go h.readLoop(id, c)
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) pingLoop(id string, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if !h.alive(id, c) {
			return
		}
		h.write(id, c, func(ws *websocket.Conn) error {
			return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		})
	}
}

func (h *Hub) readLoop(id string, c *conn) {
	defer h.drop(id, c)

	c.ws.SetReadLimit(4 << 10)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, message, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if mt == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(message)), "ping") {
			h.write(id, c, func(ws *websocket.Conn) error {
				return ws.WriteMessage(websocket.TextMessage, []byte("pong"))
			})
		}
	}
}

func (h *Hub) alive(id string, c *conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id] == c
}

func (h *Hub) drop(id string, c *conn) {
	_ = c.ws.Close()
	h.mu.Lock()
	if current, ok := h.conns[id]; ok && current == c {
		delete(h.conns, id)
	}
	h.mu.Unlock()
}

func (h *Hub) write(id string, c *conn, fn func(*websocket.Conn) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := fn(c.ws); err != nil {
		h.errorf("repair feed %s write failed: %v", id, err)
		go h.drop(id, c)
	}
}

// Broadcast sends payload to every connected dashboard.
func (h *Hub) Broadcast(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.errorf("repair feed marshal failed: %v", err)
		return
	}
	h.mu.RLock()
	targets := make(map[string]*conn, len(h.conns))
	for id, c := range h.conns {
		targets[id] = c
	}
	h.mu.RUnlock()
	for id, c := range targets {
		h.write(id, c, func(ws *websocket.Conn) error {
			return ws.WriteMessage(websocket.TextMessage, data)
		})
	}
}

// Observe is a workflow observer that publishes every transition.
func (h *Hub) Observe(res lifecycle.Result) {
	h.Broadcast(FromResult(res))
}

func (h *Hub) infof(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Infof(format, args...)
	}
}

func (h *Hub) errorf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Errorf(format, args...)
	}
}
