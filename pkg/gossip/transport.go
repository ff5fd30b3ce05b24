// Copyright 2025 Cynic Protocol
//
// Websocket transport for peer-to-peer gossip, following the same
// connection-hub shape as a browser-dashboard websocket feed: a map of
// live connections guarded by a mutex, Send writing each message
// straight to the peer's connection, and a read loop per connection
// that decodes incoming messages, hands them to onRecv, and removes the
// connection once a read fails.
package gossip

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // peer identity is authenticated at the message layer (signed envelopes), not at the TLS/origin layer
	},
}

// Hub maintains live peer connections and implements Transport.
type Hub struct {
	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	logger  log.Logger
	onRecv  func(peerID string, msg *Message)
}

// NewHub builds an empty connection hub. onRecv is invoked for every
// message read off any peer connection.
func NewHub(logger log.Logger, onRecv func(peerID string, msg *Message)) *Hub {
	return &Hub{
		conns:  make(map[string]*websocket.Conn),
		logger: logger,
		onRecv: onRecv,
	}
}

// Accept upgrades an inbound HTTP request to a websocket and registers
// the connection under peerID (taken from the request, e.g. a signed
// handshake header validated by the caller before Accept is invoked).
func (h *Hub) Accept(peerID string, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("gossip: websocket upgrade failed", "peer", peerID, "err", err)
		return
	}
	h.register(peerID, conn)
}

// Dial opens an outbound websocket connection to addr and registers it
// under peerID.
func (h *Hub) Dial(peerID, addr string) error {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return err
	}
	h.register(peerID, conn)
	return nil
}

func (h *Hub) register(peerID string, conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[peerID] = conn
	h.mu.Unlock()

	go h.readLoop(peerID, conn)
}

func (h *Hub) readLoop(peerID string, conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, peerID)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Info("gossip: peer connection closed", "peer", peerID, "err", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Error("gossip: malformed message", "peer", peerID, "err", err)
			continue
		}
		if h.onRecv != nil {
			h.onRecv(peerID, &msg)
		}
	}
}

// Send implements Transport: writes msg to peerID's connection, if live.
func (h *Hub) Send(peerID string, msg *Message) error {
	h.mu.Lock()
	conn, ok := h.conns[peerID]
	h.mu.Unlock()
	if !ok {
		return errPeerNotConnected(peerID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect closes and removes a peer connection.
func (h *Hub) Disconnect(peerID string) {
	h.mu.Lock()
	conn, ok := h.conns[peerID]
	delete(h.conns, peerID)
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// ConnectedPeers returns the ids of currently live connections.
func (h *Hub) ConnectedPeers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	return out
}

type peerNotConnectedError string

func (e peerNotConnectedError) Error() string { return "gossip: peer not connected: " + string(e) }

func errPeerNotConnected(peerID string) error { return peerNotConnectedError(peerID) }
