package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pricefeed-aggregator/internal/metrics"
)

const maxMessageSize = 64 * 1024

// Client is one connected websocket consumer. All outbound traffic funnels
// through the buffered send channel; the channel is never closed, writePump
// exits when quit closes.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	quit     chan struct{}
	quitOnce sync.Once
}

func newClient(id string, hub *Hub, conn *websocket.Conn, sendBuffer int) *Client {
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		quit: make(chan struct{}),
	}
}

// enqueueJSON marshals v and queues it without blocking. A full buffer means
// the client cannot keep up; the hub disconnects it rather than stalling the
// pipeline.
func (c *Client) enqueueJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.logger.WithError(err).Error("Failed to marshal outbound message")
		return
	}
	select {
	case <-c.quit:
	case c.send <- data:
	default:
		metrics.ClientSendFailures.Inc()
		c.hub.logger.WithField("client_id", c.id).Warn("Client send buffer full, disconnecting")
		go c.hub.Disconnect(c.id)
	}
}

func (c *Client) close() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// readPump consumes control messages and acts as the connection watchdog.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).WithField("client_id", c.id).Debug("Client read error")
			}
			return
		}
		c.hub.handleMessage(c, message)
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
