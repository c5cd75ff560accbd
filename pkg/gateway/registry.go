package gateway

import (
	"sync"
	"time"
)

// ClientInfo describes a connected WebSocket client
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	IPAddress   string    `json:"ip_address"`
	Requests    int       `json:"requests_last_minute"`
	InFlight    int       `json:"in_flight"`
}

// ClientRegistry tracks connected WebSocket clients
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*wsClient),
	}
}

func (r *ClientRegistry) add(client *wsClient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.ID] = client
}

func (r *ClientRegistry) remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, clientID)
}

func (r *ClientRegistry) all() []*wsClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*wsClient, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// ConnectedClients returns information for all connected clients
func (r *ClientRegistry) ConnectedClients() []ClientInfo {
	clients := r.all()

	infos := make([]ClientInfo, 0, len(clients))
	for _, client := range clients {
		requests, inFlight := client.RateLimiter.GetStats()
		infos = append(infos, ClientInfo{
			ID:          client.ID,
			ConnectedAt: client.ConnectedAt,
			IPAddress:   client.IPAddress,
			Requests:    requests,
			InFlight:    inFlight,
		})
	}
	return infos
}
