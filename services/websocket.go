package services

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ashwin-0055/flowsync/database"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Message types pushed to clients
const (
	MessageSnapshot  = "snapshot"
	MessageNotice    = "notice"
	MessageCelebrate = "celebrate"
	MessagePong      = "pong"
)

// WebSocketMessage is the envelope of every frame pushed to a client
type WebSocketMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	User string `json:"user,omitempty"`
}

// IncomingMessage is a frame sent by a client. Data is decoded by whoever
// handles the type.
type IncomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is one WebSocket connection watching one board
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	UserID  string
	BoardID string

	// OnMessage handles every frame other than ping. It runs on the read
	// goroutine, so frames from one client are handled in order.
	OnMessage func(IncomingMessage)
	// OnClose runs once the read loop ends
	OnClose func()
}

// NewClient creates a client with a buffered send queue
func NewClient(hub *Hub, conn *websocket.Conn, userID, boardID string) *Client {
	return &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		UserID:  userID,
		BoardID: boardID,
	}
}

// ReadPump pumps messages from the WebSocket connection to OnMessage
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
		if c.OnClose != nil {
			c.OnClose()
		}
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

		var in IncomingMessage
		if err := json.Unmarshal(message, &in); err != nil {
			log.Printf("Error unmarshalling WebSocket message: %v", err)
			continue
		}

		if in.Type == "ping" {
			c.Hub.SendTo(c, WebSocketMessage{
				Type: MessagePong,
				Data: map[string]string{"timestamp": time.Now().Format(time.RFC3339)},
			})
			continue
		}

		log.Printf("Received message from client %s: %s", c.UserID, in.Type)
		if c.OnMessage != nil {
			c.OnMessage(in)
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

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
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

// delivery is routed by the hub. A set client targets that connection
// only; otherwise every client on boardID gets it, narrowed to userID when
// set and skipping exclude.
type delivery struct {
	client  *Client
	boardID string
	userID  string
	exclude string
	payload []byte
}

// Hub maintains the set of active clients and routes messages to them. All
// client bookkeeping happens on the Run goroutine, which is also the only
// place a client's Send channel is closed.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan delivery, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount reports how many connections are registered
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Broadcast sends a message to every client on a board except the
// connections of excludeUserID
func (h *Hub) Broadcast(boardID string, message WebSocketMessage, excludeUserID string) {
	h.route(delivery{boardID: boardID, exclude: excludeUserID}, message)
}

// SendToUser sends a message to every connection userID has open on a board
func (h *Hub) SendToUser(boardID, userID string, message WebSocketMessage) {
	h.route(delivery{boardID: boardID, userID: userID}, message)
}

// SendTo sends a message to one connection
func (h *Hub) SendTo(client *Client, message WebSocketMessage) {
	h.route(delivery{client: client}, message)
}

// Celebrate tells the whole board a card was completed
func (h *Hub) Celebrate(boardID string, card database.Card, list database.List) {
	h.Broadcast(boardID, WebSocketMessage{
		Type: MessageCelebrate,
		Data: map[string]any{"card": card, "list": list},
	}, "")
}

// Notice shows a toast to one user
func (h *Hub) Notice(boardID, userID, level, message string) {
	h.SendToUser(boardID, userID, WebSocketMessage{
		Type: MessageNotice,
		Data: map[string]string{"level": level, "message": message},
	})
}

func (h *Hub) route(d delivery, message WebSocketMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshalling WebSocket message: %v", err)
		return
	}
	d.payload = payload

	select {
	case h.broadcast <- d:
	case <-h.done:
	}
}

// Run starts the hub's main loop. When ctx ends every client is dropped.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.drop(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			h.count.Add(1)
			log.Printf("Client connected: %s on board %s", client.UserID, client.BoardID)
		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				log.Printf("Client disconnected: %s", client.UserID)
			}
		case d := <-h.broadcast:
			if d.client != nil {
				if h.clients[d.client] {
					h.deliver(d.client, d.payload)
				}
				continue
			}
			for client := range h.clients {
				if client.BoardID != d.boardID {
					continue
				}
				if d.userID != "" && client.UserID != d.userID {
					continue
				}
				if d.exclude != "" && client.UserID == d.exclude {
					continue
				}
				h.deliver(client, d.payload)
			}
		}
	}
}

func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		// Client's send buffer is full, assume disconnected
		log.Printf("Client send buffer full, removing client: %s", client.UserID)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.count.Add(-1)
}
