package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/openfpv/flowsync/go/internal/flowstate"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the WebSocket connections of one racing
// session and implements the session manager's Broadcaster. Outbound
// traffic funnels through a single broadcast channel; each connection
// has its own buffered send queue and read/write pumps.
type ConnectionManager struct {
	clients map[string]*Connection
	mu      sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	outboundCh chan outbound

	// route dispatches inbound envelopes; set before serving.
	route RouteFunc
}

// RouteFunc handles one inbound envelope from a client.
type RouteFunc func(ctx context.Context, clientID string, env Envelope)

// Connection represents one WebSocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// outbound is a queued event: point-to-point when ClientID is set,
// fan-out otherwise.
type outbound struct {
	ClientID string
	Event    string
	Payload  any
}

// DefaultConnectionConfig returns defaults sized for telemetry traffic:
// state updates are small but arrive at client tick rate.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Game clients connect from arbitrary origins.
			return true
		},
	}
}

// NewConnectionManager creates a connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:     config,
		outboundCh: make(chan outbound, 1000),
	}
}

var _ flowstate.Broadcaster = (*ConnectionManager)(nil)

// SetRoute installs the inbound dispatcher. Must be called before the
// first connection is served.
func (cm *ConnectionManager) SetRoute(route RouteFunc) {
	cm.route = route
}

// Start drains the outbound queue until the context ends.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case msg := <-cm.outboundCh:
			cm.deliver(msg)
		}
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection and starts
// its pumps.
func (cm *ConnectionManager) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote", r.RemoteAddr).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[conn.ID] = conn
	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.clients)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, exists := cm.clients[conn.ID]; exists {
		delete(cm.clients, conn.ID)
		close(conn.Send)
		log.Info().
			Str("connection_id", conn.ID).
			Msg("connection unregistered")
	}
}

// SendTo queues an event for one client.
func (cm *ConnectionManager) SendTo(clientID string, event string, payload any) {
	select {
	case cm.outboundCh <- outbound{ClientID: clientID, Event: event, Payload: payload}:
	default:
		log.Warn().Str("event", event).Str("client_id", clientID).Msg("outbound queue full, dropping message")
	}
}

// Broadcast queues an event for every connected client.
func (cm *ConnectionManager) Broadcast(event string, payload any) {
	select {
	case cm.outboundCh <- outbound{Event: event, Payload: payload}:
	default:
		log.Warn().Str("event", event).Msg("outbound queue full, dropping broadcast")
	}
}

// deliver marshals once and fans out to the targeted connections. Slow
// or dead connections are closed rather than allowed to stall the rest.
func (cm *ConnectionManager) deliver(msg outbound) {
	cm.mu.RLock()
	var targets []*Connection
	if msg.ClientID != "" {
		if conn, ok := cm.clients[msg.ClientID]; ok {
			targets = append(targets, conn)
		}
	} else {
		for _, conn := range cm.clients {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := EncodeEnvelope(msg.Event, msg.Payload)
	if err != nil {
		log.Error().Err(err).Str("event", msg.Event).Msg("failed to marshal outbound event")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregister(conn)
			conn.Conn.Close()
		}
	}
}

// writePump drains a connection's send queue and keeps its ping alive.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump decodes inbound envelopes and hands them to the router. A
// malformed frame is logged and dropped, never fatal to the pump. The
// request context dies with the upgrade handler, so dispatch runs on a
// fresh one.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		env, err := DecodeEnvelope(message)
		if err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Msg("dropping malformed inbound frame")
		} else if c.Manager.route != nil {
			c.Manager.route(context.Background(), c.ID, env)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// EncodeEnvelope wraps an event payload in the wire envelope.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
