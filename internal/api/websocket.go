package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nerrad567/xrmonitor-core/internal/auth"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/config"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/logging"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

// Client message types.
const (
	WSTypeJoinBus  = "join_bus"
	WSTypeLeaveBus = "leave_bus"
	WSTypeSetLevel = "set_level"
	WSTypePing     = "ping"
)

// Server message types.
const (
	WSTypePong     = "pong"
	WSTypeEvent    = "event"
	WSTypeResponse = "response"
	WSTypeError    = "error"
)

// Event types carried in WSMessage.EventType.
const (
	EventChannelUpdated = "channel.updated"
	EventBusUserCount   = "bus.user_count"
	EventBusSnapshot    = "bus.snapshot"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// snapshotTimeout bounds the snapshot sent after join_bus.
	snapshotTimeout = 5 * time.Second

	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 8192
)

// WSMessage is the envelope for every server to client message.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a client to server message. Payload is decoded per type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinBusPayload struct {
	Bus int `json:"bus"`
}

type setLevelPayload struct {
	Channel int      `json:"channel"`
	Level   *float64 `json:"level"`
}

type channelUpdatedPayload struct {
	Bus     int     `json:"bus"`
	Channel *int    `json:"channel"`
	Level   float64 `json:"level"`
}

type userCountPayload struct {
	Bus   int `json:"bus"`
	Count int `json:"count"`
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	// onDisconnect runs after a client is unregistered.
	onDisconnect func(*WSClient)
}

// WSClient is one WebSocket connection.
type WSClient struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	role    auth.Role
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.RWMutex
	bus int // focused bus, 0 when none
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", client.id, "user_id", client.userID, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	if h.onDisconnect != nil {
		h.onDisconnect(client)
	}
	h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", h.ClientCount())
}

// BroadcastToBus sends an event to every client focused on bus.
// Lock ordering: the hub lock is released before per-client checks.
func (h *Hub) BroadcastToBus(bus int, eventType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.focusedBus() == bus {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels so
// writePump goroutines exit. readPump then unregisters each client, which
// releases its bus.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

func (h *Hub) pingInterval() time.Duration {
	if h.cfg.PingInterval <= 0 {
		return defaultPingInterval
	}
	return time.Duration(h.cfg.PingInterval) * time.Second
}

func (h *Hub) pongTimeout() time.Duration {
	if h.cfg.PongTimeout <= 0 {
		return defaultPongTimeout
	}
	return time.Duration(h.cfg.PongTimeout) * time.Second
}

func (h *Hub) maxMessageSize() int64 {
	if h.cfg.MaxMessageSize <= 0 {
		return defaultMaxMessageSize
	}
	return int64(h.cfg.MaxMessageSize)
}

// newLevelLimiter allows LevelWritesPerSecond set_level messages per
// second with an equal burst. Zero disables the limit.
func newLevelLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

// handleWebSocket authenticates with ?ticket= (from POST /auth/ws-ticket)
// or ?token= and upgrades the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var (
		id  *identity
		err error
	)
	switch q := r.URL.Query(); {
	case q.Get("ticket") != "":
		userID, ok := s.tickets.redeem(q.Get("ticket"))
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		id, err = s.loadIdentity(r.Context(), userID)
	case q.Get("token") != "":
		id, err = s.authenticate(r.Context(), q.Get("token"))
	default:
		writeUnauthorized(w, "token or ticket query parameter is required")
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		s.logger.Error("websocket authentication failed", "error", err)
		writeInternalError(w, "failed to authenticate")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	client := &WSClient{
		id:      uuid.NewString(),
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		userID:  id.UserID,
		role:    id.Role,
		limiter: newLevelLimiter(s.wsCfg.LevelWritesPerSecond),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.hub.Register(client)

	go client.writePump()
	go client.readPump(s.handleWSMessage)
}

// readPump reads messages until the connection fails, passing each to
// handle. Messages from one client are handled in order.
func (c *WSClient) readPump(handle func(*WSClient, []byte)) {
	defer func() {
		c.cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	deadline := c.hub.pingInterval() + c.hub.pongTimeout()
	c.conn.SetReadLimit(c.hub.maxMessageSize())
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client message counts as liveness; some browsers never
		// answer protocol pings.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		handle(c, message)
	}
}

// writePump writes queued messages and keepalive pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := c.hub.pongTimeout()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWSMessage dispatches one client message.
func (s *Server) handleWSMessage(c *WSClient, data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeJoinBus:
		var p joinBusPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(msg.ID, "invalid join_bus payload")
			return
		}
		s.joinBus(c, msg.ID, p.Bus)
	case WSTypeLeaveBus:
		bus := s.leaveBus(c)
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"left": bus})
	case WSTypeSetLevel:
		var p setLevelPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Level == nil {
			c.sendError(msg.ID, "invalid set_level payload")
			return
		}
		s.wsSetLevel(c, msg.ID, p.Channel, *p.Level)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// joinBus focuses c on bus, leaving any previous bus, and sends a fresh
// snapshot. Grants are re-read so a revoked bus cannot be reopened.
func (s *Server) joinBus(c *WSClient, reqID string, bus int) {
	if err := mixer.ValidateBus(bus); err != nil {
		c.sendError(reqID, err.Error())
		return
	}

	id, err := s.loadIdentity(c.ctx, c.userID)
	if err != nil {
		s.logger.Warn("reloading websocket caller failed", "user_id", c.userID, "error", err)
		c.sendError(reqID, "authentication error")
		return
	}
	if !id.canAccessBus(bus) {
		c.sendError(reqID, "no access to this bus")
		return
	}

	if previous := c.swapBus(bus); previous != 0 && previous != bus {
		count := s.presence.Leave(previous, c.id)
		s.hub.BroadcastToBus(previous, EventBusUserCount, userCountPayload{Bus: previous, Count: count})
	}
	count := s.presence.Join(bus, c.id)
	c.sendResponse(reqID, WSTypeResponse, map[string]any{"joined": bus, "viewers": count})
	s.hub.BroadcastToBus(bus, EventBusUserCount, userCountPayload{Bus: bus, Count: count})

	ctx, cancel := context.WithTimeout(c.ctx, snapshotTimeout)
	defer cancel()
	snap, err := s.mixer.GetBusSnapshot(ctx, bus)
	if err != nil {
		c.sendError(reqID, mixerErrorMessage(err))
		return
	}
	c.sendEvent(EventBusSnapshot, snap)
}

// leaveBus releases c's bus and returns it, or 0 when c had none. It is
// also the hub's disconnect hook, so it must be idempotent.
func (s *Server) leaveBus(c *WSClient) int {
	bus := c.swapBus(0)
	if bus == 0 {
		return 0
	}
	count := s.presence.Leave(bus, c.id)
	s.hub.BroadcastToBus(bus, EventBusUserCount, userCountPayload{Bus: bus, Count: count})
	return bus
}

// wsSetLevel writes a send on the client's focused bus. Other viewers
// learn about it through the engine's change event.
func (s *Server) wsSetLevel(c *WSClient, reqID string, channel int, level float64) {
	bus := c.focusedBus()
	if bus == 0 {
		c.sendError(reqID, "join a bus first")
		return
	}
	if !auth.HasPermission(c.role, auth.PermLevelWrite) {
		c.sendError(reqID, "insufficient permissions")
		return
	}
	if !c.limiter.Allow() {
		c.sendError(reqID, "too many level changes")
		return
	}

	accepted, err := s.mixer.SetChannelLevel(channel, bus, level)
	if err != nil {
		c.sendError(reqID, mixerErrorMessage(err))
		return
	}
	c.sendResponse(reqID, WSTypeResponse, levelResponse{Bus: bus, Channel: &channel, Level: accepted})
}

func mixerErrorMessage(err error) string {
	switch {
	case errors.Is(err, mixer.ErrNotConnected):
		return "mixer is not connected"
	case errors.Is(err, mixer.ErrConstraintViolation):
		return err.Error()
	default:
		return "mixer operation failed"
	}
}

func (c *WSClient) focusedBus() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bus
}

// swapBus sets the focused bus and returns the previous one.
func (c *WSClient) swapBus(bus int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.bus
	c.bus = bus
	return previous
}

// trySend queues data without blocking. Closed channels (client gone
// mid-broadcast) and full buffers (slow client) drop the message.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// sendResponse sends a reply to one client message.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	c.sendMessage(WSMessage{Type: msgType, ID: id, Payload: payload})
}

func (c *WSClient) sendEvent(eventType string, payload any) {
	c.sendMessage(WSMessage{Type: WSTypeEvent, EventType: eventType, Payload: payload})
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}

func (c *WSClient) sendMessage(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}
