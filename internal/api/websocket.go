package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicehub-core/internal/notify"
)

// Frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Channel names for registry and metadata notifications. Update hubs use
// their own names (cooling, idle_timer, ...).
const (
	ChannelDrivers  = "drivers"
	ChannelMetadata = "metadata"
)

// clientBacklog is how many frames a client may fall behind before frames
// are dropped for it.
const clientBacklog = 256

// WSMessage is one frame in either direction.
type WSMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	// Channel names the source of an event frame.
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(msg)
}

// Hub tracks connected clients and fans event frames out to the ones
// subscribed to the frame's channel.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

// Run disconnects every client once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its outbound queue. Whoever removes
// the client from the map closes the queue, so a second call is harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload as an event frame on channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, Channel: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding event frame", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// channels lists every channel a client may subscribe to.
func (s *Server) channels() []string {
	out := []string{ChannelDrivers}
	if s.metadata != nil {
		out = append(out, ChannelMetadata)
	}
	return append(out,
		s.hubs.Cooling.Name(),
		s.hubs.IdleTimer.Name(),
		s.hubs.LowBatteryThreshold.Name(),
		s.hubs.WirelessBrightness.Name(),
		s.hubs.SensorConfiguration.Name(),
		s.hubs.LightingZoneEffect.Name(),
		s.hubs.MenuItem.Name(),
	)
}

// startForwarders subscribes to every notification source and broadcasts
// each envelope on its channel until ctx is done. Subscriptions are taken
// before it returns, so nothing published afterwards is missed. Driver
// changes carry no initial enumeration; clients read the current set over
// REST.
func (s *Server) startForwarders(ctx context.Context) {
	go forward(ctx, s.hub, ChannelDrivers, s.registry.Subscribe(), s.registry.Unsubscribe)
	if s.metadata != nil {
		go forward(ctx, s.hub, ChannelMetadata, s.metadata.Subscribe(), s.metadata.Unsubscribe)
	}
	forwardHub(ctx, s.hub, s.hubs.Cooling)
	forwardHub(ctx, s.hub, s.hubs.IdleTimer)
	forwardHub(ctx, s.hub, s.hubs.LowBatteryThreshold)
	forwardHub(ctx, s.hub, s.hubs.WirelessBrightness)
	forwardHub(ctx, s.hub, s.hubs.SensorConfiguration)
	forwardHub(ctx, s.hub, s.hubs.LightingZoneEffect)
	forwardHub(ctx, s.hub, s.hubs.MenuItem)
}

func forward[T any](ctx context.Context, h *Hub, channel string, q *notify.Queue[T], release func(*notify.Queue[T])) {
	defer release(q)
	notify.Drain(ctx, q, func(env notify.Envelope[T]) bool {
		h.Broadcast(channel, env)
		return true
	})
}

func forwardHub[T any](ctx context.Context, h *Hub, hub *notify.Hub[T]) {
	go forward(ctx, h, hub.Name(), hub.Subscribe(), hub.Unsubscribe)
}

// Origin checks belong to the CORS middleware in front of this handler.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request. Authentication has already
// happened in authMiddleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	known := s.channels()
	c := &WSClient{
		hub:   s.hub,
		conn:  conn,
		send:  make(chan []byte, clientBacklog),
		known: func(ch string) bool { return slices.Contains(known, ch) },
		subs:  make(map[string]struct{}),
	}
	s.hub.Register(c)

	t := newKeepalive(s.wsCfg)
	go c.writeLoop(t)
	go c.readLoop(t, s.wsCfg.MaxMessageSize)
}

// keepalive holds the ping cadence and how long a peer may stay silent.
type keepalive struct {
	ping, pong time.Duration
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	k := keepalive{
		ping: time.Duration(cfg.PingInterval) * time.Second,
		pong: time.Duration(cfg.PongTimeout) * time.Second,
	}
	if k.ping <= 0 {
		k.ping = 30 * time.Second
	}
	if k.pong <= 0 {
		k.pong = 10 * time.Second
	}
	return k
}

// WSClient is one connected socket.
type WSClient struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	known func(string) bool

	mu   sync.RWMutex
	subs map[string]struct{}
}

func (c *WSClient) readLoop(k keepalive, maxSize int) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if maxSize > 0 {
		c.conn.SetReadLimit(int64(maxSize))
	}
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(k.ping + k.pong)) }
	_ = extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		_ = extend() //nolint:errcheck // as above
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop(k keepalive) {
	ticker := time.NewTicker(k.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(k.pong)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame.
func (c *WSClient) dispatch(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.setChannels(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.fail(msg.ID, "unknown message type: "+msg.Type)
	}
}

// setChannels applies a subscribe or unsubscribe frame. A subscribe naming
// any unknown channel changes nothing.
func (c *WSClient) setChannels(msg WSMessage) {
	var req WSSubscribePayload
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		c.fail(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	on := msg.Type == WSTypeSubscribe
	if on {
		if i := slices.IndexFunc(req.Channels, func(ch string) bool { return !c.known(ch) }); i >= 0 {
			c.fail(msg.ID, "unknown channel: "+req.Channels[i])
			return
		}
	}

	c.mu.Lock()
	for _, ch := range req.Channels {
		if on {
			c.subs[ch] = struct{}{}
		} else {
			delete(c.subs, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if on {
		key = "subscribed"
		c.hub.logger.Debug("websocket client subscribed", "channels", req.Channels)
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: req.Channels})
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

// enqueue drops data when the client's backlog is full, as notification
// queues do. The queue may already be closed by Unregister.
func (c *WSClient) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, typ string, payload any) {
	if data, err := encodeFrame(WSMessage{Type: typ, ID: id, Payload: payload}); err == nil {
		c.enqueue(data)
	}
}

func (c *WSClient) fail(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
