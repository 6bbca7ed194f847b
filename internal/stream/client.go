package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one WebSocket peer. It starts subscribed to every channel.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subMu sync.RWMutex
	subs  map[string]bool // nil means all channels
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *Client) subscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs == nil || c.subs[channel]
}

// controlMsg is what clients may send.
//
//	{"type":"SUBSCRIBE","channels":["leaderboard"]}
//	{"type":"UNSUBSCRIBE","channels":["trades"]}
//	{"type":"PING","ping":1712345678}
type controlMsg struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	Ping     int64    `json:"ping"`
}

func (c *Client) handle(msg controlMsg) {
	switch msg.Type {
	case "SUBSCRIBE":
		c.subMu.Lock()
		if c.subs == nil {
			c.subs = make(map[string]bool)
		}
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
		c.subMu.Unlock()
	case "UNSUBSCRIBE":
		c.subMu.Lock()
		if c.subs == nil {
			c.subs = map[string]bool{ChannelLeaderboard: true, ChannelTrades: true, ChannelMarket: true}
		}
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
		c.subMu.Unlock()
	case "PING":
		pong, _ := json.Marshal(map[string]any{
			"type":      "pong",
			"ping":      msg.Ping,
			"server_ts": time.Now().UnixMilli(),
		})
		c.hub.mu.RLock()
		if c.hub.clients[c] {
			select {
			case c.send <- pong:
			default:
			}
		}
		c.hub.mu.RUnlock()
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.handle(msg)
	}
}
