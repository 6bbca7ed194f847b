// Package stream pushes leaderboard, trade and market events to browsers
// over WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Channels published by the server.
const (
	ChannelLeaderboard = "leaderboard"
	ChannelTrades      = "trades"
	ChannelMarket      = "market"
)

// DefaultReplaySize is the per-channel backfill depth.
const DefaultReplaySize = 200

// Hub tracks connected clients and fans out envelopes to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string][]byte
	seqs    map[string]int64
	replay  map[string]*replayRing
	seq     int64

	upgrader websocket.Upgrader
	log      *slog.Logger
	now      func() time.Time

	OnClients func(n int) // called with the client count after connect/disconnect
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(logger *slog.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string][]byte),
		seqs:    make(map[string]int64),
		replay:  make(map[string]*replayRing),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		log: logger,
		now: time.Now,
	}
}

// Broadcast wraps data in an envelope and sends it to every client
// subscribed to channel. Slow clients drop messages rather than block.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.seqs[channel]++
	channelSeq := h.seqs[channel]

	buf := make([]byte, 0, len(channel)+len(data)+128)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')

	h.latest[channel] = buf
	rb, ok := h.replay[channel]
	if !ok {
		rb = newReplayRing(DefaultReplaySize)
		h.replay[channel] = rb
	}
	h.mu.Unlock()

	rb.push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			h.log.Warn("ws client send buffer full, dropping", "channel", channel)
		}
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *Hub) BroadcastJSON(channel string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(channel, b)
	return nil
}

// Replay returns buffered envelopes of channel with channel_seq in [from, to].
func (h *Hub) Replay(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replay[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.rangeSeq(from, to)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client. It receives the
// latest envelope of every channel right away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newClient(h, conn)

	h.mu.Lock()
	for _, env := range h.latest {
		c.send <- env
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", n)
	if h.OnClients != nil {
		h.OnClients(n)
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", "clients", n)
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}

// RunPublisher broadcasts produce's result on channel every interval until
// ctx is cancelled. A nil result skips the tick.
func (h *Hub) RunPublisher(ctx context.Context, channel string, interval time.Duration, produce func(context.Context) any) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v := produce(ctx)
			if v == nil {
				continue
			}
			if err := h.BroadcastJSON(channel, v); err != nil {
				h.log.Warn("publish failed", "channel", channel, "err", err)
			}
		}
	}
}
