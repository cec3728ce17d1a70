package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/internal/events"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeSnapshot   MessageType = "snapshot"
	MsgTypeSignal     MessageType = "signal"
	MsgTypeCandle     MessageType = "candle"
	MsgTypeBacktest   MessageType = "backtest"
	MsgTypeSubscribed MessageType = "subscribed"
	MsgTypeError      MessageType = "error"
	MsgTypeHeartbeat  MessageType = "heartbeat"
	MsgTypePong       MessageType = "pong"

	// Client -> Server messages
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypePing        MessageType = "ping"
)

// Channels clients can subscribe to. Snapshot, signal and candle channels also exist per
// symbol, e.g. "signals:BTCUSDT".
const (
	ChannelSnapshots = "snapshots"
	ChannelSignals   = "signals"
	ChannelCandles   = "candles"
	ChannelBacktests = "backtests"
)

const (
	sendBuffer     = 256
	readLimit      = 65536
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	heartbeatEvery = 30 * time.Second
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is a WebSocket client connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections and channel subscriptions.
type Hub struct {
	logger    *zap.Logger
	clients   map[*Client]bool
	broadcast chan []byte
	channels  map[string]map[*Client]bool
	closed    bool
	mu        sync.RWMutex

	busMu sync.Mutex
	bus   *events.EventBus
	subs  []*events.Subscription
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger,
		clients:   make(map[*Client]bool),
		broadcast: make(chan []byte, 256),
		channels:  make(map[string]map[*Client]bool),
	}
}

// Run services broadcasts and heartbeats until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.dropLocked(client)
				}
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

// Register adds a client. It reports false once the hub has shut down.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = true
	h.logger.Debug("Client registered", zap.String("id", client.id))
	return true
}

// Unregister removes a client and closes its send queue.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		h.dropLocked(client)
		h.logger.Debug("Client unregistered", zap.String("id", client.id))
	}
}

// dropLocked closes the client's send queue and forgets its subscriptions. h.mu must be held.
func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)

	client.mu.RLock()
	defer client.mu.RUnlock()
	for channel := range client.subscriptions {
		if clients, ok := h.channels[channel]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.channels, channel)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		h.dropLocked(client)
	}
}

// sendHeartbeat sends heartbeat to all clients.
func (h *Hub) sendHeartbeat() {
	msg := WSMessage{
		Type:      MsgTypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
	}

	data, _ := json.Marshal(msg)

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

// Attach forwards snapshot, signal, candle and backtest events from bus to subscribed clients.
func (h *Hub) Attach(bus *events.EventBus) {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	h.bus = bus
	h.subs = append(h.subs,
		bus.Subscribe(events.EventTypeSnapshot, func(e events.Event) error {
			if ev, ok := e.(*events.SnapshotEvent); ok {
				h.publishSymbol(ChannelSnapshots, ev.Snapshot.Symbol, MsgTypeSnapshot, ev.Snapshot)
			}
			return nil
		}),
		bus.Subscribe(events.EventTypeSignal, func(e events.Event) error {
			if ev, ok := e.(*events.SignalEvent); ok {
				h.publishSymbol(ChannelSignals, ev.Signal.Symbol, MsgTypeSignal, ev.Signal)
			}
			return nil
		}),
		bus.Subscribe(events.EventTypeCandle, func(e events.Event) error {
			if ev, ok := e.(*events.CandleEvent); ok {
				h.publishSymbol(ChannelCandles, ev.Candle.Symbol, MsgTypeCandle, ev.Candle)
			}
			return nil
		}),
		bus.Subscribe(events.EventTypeBacktest, func(e events.Event) error {
			h.PublishToChannel(ChannelBacktests, MsgTypeBacktest, e)
			return nil
		}),
	)
}

// Detach removes the event bus subscriptions.
func (h *Hub) Detach() {
	h.busMu.Lock()
	defer h.busMu.Unlock()

	if h.bus == nil {
		return
	}
	for _, sub := range h.subs {
		h.bus.Unsubscribe(sub)
	}
	h.subs = nil
	h.bus = nil
}

func (h *Hub) publishSymbol(channel, symbol string, msgType MessageType, data interface{}) {
	h.PublishToChannel(channel, msgType, data)
	h.PublishToChannel(channel+":"+symbol, msgType, data)
}

// Subscribe subscribes a registered client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return false
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()

	h.logger.Debug("Client subscribed to channel",
		zap.String("client", client.id),
		zap.String("channel", channel))
	return true
}

// Unsubscribe unsubscribes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// PublishToChannel publishes a message to a channel. Slow clients miss messages rather than
// stalling the publisher.
func (h *Hub) PublishToChannel(channel string, msgType MessageType, data interface{}) {
	h.mu.RLock()
	clients := len(h.channels[channel])
	h.mu.RUnlock()
	if clients == 0 {
		return
	}

	msgBytes, err := encode(msgType, channel, data)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[channel] {
		select {
		case client.send <- msgBytes:
		default:
		}
	}
}

// Broadcast sends a message to all clients.
func (h *Hub) Broadcast(msgType MessageType, data interface{}) {
	msgBytes, err := encode(msgType, "", data)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func encode(msgType MessageType, channel string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(WSMessage{
		Type:      msgType,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleWebSocket upgrades the connection and registers a hub client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	s.logger.Info("WebSocket client connected", zap.String("id", client.id))

	go client.WritePump()
	go client.ReadPump()
}

// NewClient creates a new client.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
	}
}

// ReadPump pumps messages from the WebSocket to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			c.reply(MsgTypeError, "", map[string]string{"error": "invalid message"})
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			if msg.Channel == "" {
				c.reply(MsgTypeError, "", map[string]string{"error": "channel required"})
				continue
			}
			if c.hub.Subscribe(c, msg.Channel) {
				c.reply(MsgTypeSubscribed, msg.Channel, nil)
			}
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		case MsgTypePing:
			c.reply(MsgTypePong, "", nil)
		default:
			c.reply(MsgTypeError, "", map[string]string{"error": "unknown message type"})
		}
	}
}

// reply queues a direct response to this client
func (c *Client) reply(msgType MessageType, channel string, data interface{}) {
	b, err := encode(msgType, channel, data)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// WritePump pumps messages from the hub to the WebSocket.
func (c *Client) WritePump() {
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
