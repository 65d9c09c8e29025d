package websocket

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenMotionCore/internal/auth"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	logger      *zap.Logger
	permissions []auth.Permission
	registered  bool

	// closed is set once send is closed; guarded by hub.mu
	closed bool
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	// Closing send lets writePump flush pending replies and close the
	// connection.
	defer func() {
		if c.registered {
			c.hub.remove(c)
		} else {
			c.hub.mu.Lock()
			c.hub.closeSend(c)
			c.hub.mu.Unlock()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if c.hub.jwt != nil {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetPongHandler(func(string) error {
		if c.registered {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}

		// First message must authenticate when auth is enabled
		if !c.registered {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg ClientMessage) bool {
	if msg.Type != "auth" || msg.Token == "" {
		c.sendJSON(NewMessage(MessageTypeAuthFailed, "first message must be an auth message with a token"))
		return false
	}

	claims, err := c.hub.jwt.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.sendJSON(NewMessage(MessageTypeAuthFailed, "invalid or expired token"))
		return false
	}

	c.permissions = auth.RolePermissions(claims.Role)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.sendJSON(NewMessage(MessageTypeAuthSuccess, c.permissions))
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.String("operator", claims.Operator))

	c.registered = true
	c.hub.add(c)
	return true
}

// handleMessage accepts realtime requests: {"type":"realtime","name":"feed_hold"}
// and {"type":"override","name":"feed_coarse_plus"}.
func (c *Client) handleMessage(msg ClientMessage) {
	if c.hub.commander == nil || !slices.Contains(c.permissions, auth.PermMotion) {
		c.sendJSON(NewMessage(MessageTypeError, "realtime requests not permitted"))
		return
	}
	switch msg.Type {
	case "realtime":
		if f, ok := signals.ParseFlag(msg.Name); ok {
			c.hub.commander.Request(f)
			return
		}
	case "override":
		if o, ok := signals.ParseOverride(msg.Name); ok {
			c.hub.commander.RequestOverride(o)
			return
		}
	}
	c.sendJSON(NewMessage(MessageTypeError, "unknown request "+msg.Type+" "+msg.Name))
}

// sendJSON queues a direct reply, dropping it when the buffer is full or
// the hub has already closed the client.
func (c *Client) sendJSON(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump handles writing messages to the WebSocket connection
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
				// Hub closed the channel
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	if hub.jwt == nil {
		client.permissions = auth.RolePermissions(auth.RoleAdmin)
		client.registered = true
		hub.add(client)
	}

	go client.writePump()
	go client.readPump()
}
