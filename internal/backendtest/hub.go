package backendtest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type delivery struct {
	recipients []int
	event      models.Event
}

// Hub fans push events out to connected sessions. A user may hold several
// connections at once.
type Hub struct {
	clients    map[int]map[*wsClient]bool
	broadcast  chan delivery
	register   chan *wsClient
	unregister chan *wsClient
	done       <-chan struct{}
	mu         sync.RWMutex
}

type wsClient struct {
	userID int
	conn   *websocket.Conn
	hub    *Hub
	send   chan models.Event
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func newHub(done <-chan struct{}) *Hub {
	return &Hub{
		done:       done,
		clients:    make(map[int]map[*wsClient]bool),
		broadcast:  make(chan delivery, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Connected reports how many sessions userID has open.
func (h *Hub) Connected(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Publish queues ev for every connected session of recipients.
func (h *Hub) Publish(recipients []int, ev models.Event) {
	select {
	case h.broadcast <- delivery{recipients: recipients, event: ev}:
	default:
		logger.Warn().Str("type", string(ev.Type)).Msg("push queue full, event dropped")
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[int]map[*wsClient]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*wsClient]bool)
			}
			h.clients[c.userID][c] = true
			h.mu.Unlock()
			logger.Debug().Int("user_id", c.userID).Msg("push client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.userID]; ok && set[c] {
				delete(set, c)
				close(c.send)
				if len(set) == 0 {
					delete(h.clients, c.userID)
				}
			}
			h.mu.Unlock()
			logger.Debug().Int("user_id", c.userID).Msg("push client disconnected")

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range d.recipients {
		for c := range h.clients[userID] {
			select {
			case c.send <- d.event:
			default:
				logger.Warn().Int("user_id", userID).Msg("push channel full")
			}
		}
	}
}

func (h *Hub) handleWebSocket(c *gin.Context) {
	user := currentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		userID: user.ID,
		conn:   conn,
		hub:    h,
		send:   make(chan models.Event, 64),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// readPump only services control frames; clients do not send events.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Int("user_id", c.userID).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
