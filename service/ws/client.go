package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Toucher records that a user is active. The presence store satisfies it.
type Toucher interface {
	Touch(ctx context.Context, userID uint, at time.Time) error
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint
}

type Handler struct {
	hub      *Hub
	presence Toucher
	upgrader websocket.Upgrader
}

// NewHandler serves websocket upgrades. An empty origins list or "*" accepts
// any origin.
func NewHandler(hub *Hub, presence Toucher, origins []string) *Handler {
	allowed := make(map[string]bool, len(origins))
	anyOrigin := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}
	return &Handler{
		hub:      hub,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.Serve).Methods("GET")
}

func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn().Err(err).Uint("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: h.hub, conn: conn, send: make(chan []byte, sendBuffer), userID: userID}
	h.hub.register(client)
	h.touch(userID)
	h.hub.log.Debug().Uint("user_id", userID).Msg("websocket connected")

	go client.writePump()
	go client.readPump(h.touch)
}

func (h *Handler) touch(userID uint) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Touch(context.Background(), userID, time.Now().UTC()); err != nil {
		h.hub.log.Warn().Err(err).Uint("user_id", userID).Msg("presence touch")
	}
}

// readPump discards inbound frames; it exists to process pongs and detect
// disconnects. Every frame counts as activity.
func (c *Client) readPump(touch func(uint)) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		touch(c.userID)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Uint("user_id", c.userID).Msg("websocket read")
			}
			return
		}
		touch(c.userID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
