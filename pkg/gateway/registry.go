package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/voxrelay/internal/observability"
)

const writeWait = 10 * time.Second

// Client is a browser connected to the push channel.
type Client struct {
	ID           string
	User         string
	SessionID    string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string

	writeMu sync.Mutex
}

// NewClient wraps conn with a fresh client id.
func NewClient(conn *websocket.Conn, id Identity, remote string) *Client {
	clientID, err := gonanoid.New()
	if err != nil {
		clientID = id.SessionID
	}
	now := time.Now()
	return &Client{
		ID:           clientID,
		User:         id.User,
		SessionID:    id.SessionID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    remote,
	}
}

// WriteMessage writes one frame; concurrent callers are serialized.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

// WriteJSON writes v as a text frame.
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteJSON(v)
}

// ClientRegistry manages connected push clients
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Add adds a client to the registry
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	n := len(r.clients)
	r.mu.Unlock()

	observability.SetPushSubscribers(n)
}

// Remove removes a client from the registry
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	n := len(r.clients)
	r.mu.Unlock()

	observability.SetPushSubscribers(n)
}

// Get retrieves a client by ID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	return client, exists
}

// GetAll returns all clients
func (r *ClientRegistry) GetAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// ForSession returns the clients following sessionID.
func (r *ClientRegistry) ForSession(sessionID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var clients []*Client
	for _, client := range r.clients {
		if client.SessionID == sessionID {
			clients = append(clients, client)
		}
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// GetConnectedClients returns client information for all connected clients
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:           client.ID,
			User:         client.User,
			SessionID:    client.SessionID,
			ConnectedAt:  client.ConnectedAt,
			LastActivity: client.LastActivity,
			IPAddress:    client.IPAddress,
			Idle:         now.Sub(client.LastActivity) > 5*time.Minute,
		})
	}
	return infos
}

// UpdateActivity updates the last activity time for a client
func (r *ClientRegistry) UpdateActivity(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[clientID]; exists {
		client.LastActivity = time.Now()
	}
}
