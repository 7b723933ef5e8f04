// Package overlay fans session and speech state out to the browser overlay:
// JSON control messages on one socket class, raw audio frames on another.
package overlay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/WolfwithSword/TwitchChatDND/internal/metrics"
)

// ClientKind separates the two overlay socket classes.
type ClientKind string

const (
	// KindControl carries the JSON message schema.
	KindControl ClientKind = "control"
	// KindAudio carries binary audio frames.
	KindAudio ClientKind = "audio"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	maxClients     = 16
)

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	kind         ClientKind
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseHubCmd
	kind       ClientKind
	connection *websocket.Conn
}

type broadcastCmd struct {
	baseHubCmd
	kind        ClientKind
	messageType int
	data        []byte
}

type countCmd struct {
	baseHubCmd
	kind         ClientKind
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub is the overlay connection registry. A single goroutine owns the client
// maps; all mutation and fan-out goes through its command channel, so no lock
// guards the maps. Each client gets its own writer goroutine, and a client
// whose send buffer fills is evicted rather than allowed to stall fan-out.
type Hub struct {
	cmdCh   chan hubCmd
	clock   clockwork.Clock
	clients map[ClientKind]map[*websocket.Conn]*clientWriter
	done    chan struct{}

	// OnControlConnect runs after a control client registers, off the hub
	// goroutine, so the roster can be replayed to the new client.
	OnControlConnect func()
}

// NewHub starts the hub goroutine.
func NewHub(clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &Hub{
		cmdCh: make(chan hubCmd, 256),
		clock: clock,
		clients: map[ClientKind]map[*websocket.Conn]*clientWriter{
			KindControl: {},
			KindAudio:   {},
		},
		done: make(chan struct{}),
	}
	go h.run()
	return h
}

// Register adds a connection to a client class. The client's writer goroutine
// starts immediately; control clients receive a heartbeat on entry.
func (h *Hub) Register(kind ClientKind, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- registerCmd{kind: kind, connection: conn, errorChannel: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a connection.
func (h *Hub) Unregister(kind ClientKind, conn *websocket.Conn) {
	h.cmdCh <- unregisterCmd{kind: kind, connection: conn}
}

// BroadcastControl fans a JSON control message out to every control client.
func (h *Hub) BroadcastControl(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal overlay message", "error", err)
		return
	}
	h.cmdCh <- broadcastCmd{kind: KindControl, messageType: websocket.TextMessage, data: data}
}

// BroadcastAudio fans a binary audio frame out to every audio client.
func (h *Hub) BroadcastAudio(data []byte) {
	h.cmdCh <- broadcastCmd{kind: KindAudio, messageType: websocket.BinaryMessage, data: data}
}

// ClientCount returns the number of connected clients of a kind, or -1 on
// timeout.
func (h *Hub) ClientCount(kind ClientKind) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- countCmd{kind: kind, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every client connection and shuts the hub goroutine down.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (h *Hub) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			h.closeAllClients("overlay hub panic")
		}
	}()

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c)
		case broadcastCmd:
			h.handleBroadcast(c)
		case countCmd:
			c.replyChannel <- len(h.clients[c.kind])
		case stopCmd:
			h.closeAllClients("Server shutting down")
			return
		default:
			slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	clients := h.clients[c.kind]
	if clients == nil {
		c.connection.Close()
		c.errorChannel <- fmt.Errorf("unknown client kind %q", c.kind)
		return
	}
	if len(clients) >= maxClients {
		slog.Warn("Rejecting overlay client: max clients reached", "kind", c.kind, "max_clients", maxClients)
		c.connection.Close()
		c.errorChannel <- fmt.Errorf("max overlay clients (%d) reached", maxClients)
		return
	}

	cw := newClientWriter(c.connection, h.clock)
	clients[c.connection] = cw
	metrics.OverlayConnectedClients.WithLabelValues(string(c.kind)).Inc()
	slog.Debug("Overlay client registered", "kind", c.kind, "total_clients", len(clients))

	if c.kind == KindControl && h.OnControlConnect != nil {
		go h.OnControlConnect()
	}
	c.errorChannel <- nil
}

func (h *Hub) handleUnregister(c unregisterCmd) {
	clients := h.clients[c.kind]
	cw, ok := clients[c.connection]
	if !ok {
		return
	}

	cw.stop()
	delete(clients, c.connection)
	metrics.OverlayConnectedClients.WithLabelValues(string(c.kind)).Dec()
	slog.Debug("Overlay client unregistered", "kind", c.kind, "remaining_clients", len(clients))
}

func (h *Hub) handleBroadcast(c broadcastCmd) {
	clients := h.clients[c.kind]

	var slow []*websocket.Conn
	for conn, writer := range clients {
		select {
		case writer.sendChannel <- outMessage{messageType: c.messageType, data: c.data}:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow overlay client", "kind", c.kind)
		metrics.OverlaySlowClientsEvicted.Inc()
		h.handleUnregister(unregisterCmd{kind: c.kind, connection: conn})
	}
}

func (h *Hub) closeAllClients(reason string) {
	for kind, clients := range h.clients {
		for conn, cw := range clients {
			cw.stopGraceful(reason)
			delete(clients, conn)
		}
		metrics.OverlayConnectedClients.WithLabelValues(string(kind)).Set(0)
	}
}
