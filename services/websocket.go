package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024 * 1024 // 1MB

	sendBuffer = 256
)

// MessageChanged tells every session that storage changed behind its back.
const MessageChanged = "changed"

// WebSocketMessage is the standard outbound message format
type WebSocketMessage struct {
	Type   string `json:"type"`
	Data   any    `json:"data,omitempty"`
	Sender string `json:"sender,omitempty"`
}

// InboundMessage is a message received from the browser; Data is decoded per Type.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageHandler processes one inbound message for a client.
type MessageHandler interface {
	Handle(ctx context.Context, msg InboundMessage) error
	Resync(ctx context.Context)
}

// Client represents a connected WebSocket client
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	handler MessageHandler
	changed chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:      uuid.NewString(),
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		changed: make(chan struct{}, 1),
	}
}

// Bind attaches the handler that receives this client's messages.
func (c *Client) Bind(h MessageHandler) {
	c.handler = h
}

// Deliver queues msg for the browser without blocking. It is safe to call
// after the client has been unregistered.
func (c *Client) Deliver(msg WebSocketMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshalling WebSocket message: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.Send <- payload:
	default:
		log.Printf("Client %s send buffer full, dropping %s message", c.ID, msg.Type)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// notifyChanged coalesces change signals; one pending resync is enough.
func (c *Client) notifyChanged() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// ReadPump pumps messages from the WebSocket connection to the bound handler
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg InboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshalling WebSocket message: %v", err)
			continue
		}

		if msg.Type == "ping" {
			c.Deliver(WebSocketMessage{
				Type: "pong",
				Data: map[string]string{"timestamp": time.Now().Format(time.RFC3339)},
			})
			continue
		}

		if c.handler == nil {
			continue
		}
		if err := c.handler.Handle(ctx, msg); err != nil {
			log.Printf("Error handling %s message from client %s: %v", msg.Type, c.ID, err)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one JSON document per frame; the browser parses each frame on its own
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SyncPump resyncs the bound handler whenever the hub reports a storage change.
func (c *Client) SyncPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.changed:
			if c.handler != nil {
				c.handler.Resync(ctx)
			}
		}
	}
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan WebSocketMessage
	register   chan *Client
	unregister chan *Client
	count      chan chan int
	done       chan struct{}
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan WebSocketMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends a message to all connected clients except the sender.
// An empty sender reaches everyone.
func (h *Hub) Broadcast(message WebSocketMessage, sender string) {
	message.Sender = sender
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Changed tells every connected session to resync from storage.
func (h *Hub) Changed() {
	h.Broadcast(WebSocketMessage{Type: MessageChanged}, "")
}

// Count reports the number of connected clients.
func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("Client connected: %s", client.ID)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				log.Printf("Client disconnected: %s", client.ID)
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		case message := <-h.broadcast:
			if message.Sender == "" {
				log.Printf("Broadcasting message of type '%s' to ALL clients", message.Type)
			} else {
				log.Printf("Broadcasting message of type '%s' from %s to other clients", message.Type, message.Sender)
			}

			for client := range h.clients {
				if message.Sender != "" && client.ID == message.Sender {
					continue
				}

				if message.Type == MessageChanged {
					client.notifyChanged()
					continue
				}
				client.Deliver(message)
			}
		}
	}
}
