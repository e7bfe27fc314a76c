package main

import "sync"

type registration struct {
	route     string
	announced bool
	// seen holds every route this connection has announced, for the
	// once-per-route catch-up policy.
	seen map[string]struct{}
}

// Registry maps each live connection to the route it last announced.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]*registration
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[*Client]*registration)}
}

// Register adds c with no route. Registering twice is a no-op.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		return
	}
	r.clients[c] = &registration{seen: make(map[string]struct{})}
	c.alive.Store(true)
}

// SetRoute overwrites c's route. first is true when c had never announced
// route before. Unknown connections are ignored.
func (r *Registry) SetRoute(c *Client, route string) (first, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.clients[c]
	if !ok {
		return false, false
	}
	_, seen := reg.seen[route]
	reg.seen[route] = struct{}{}
	reg.route = route
	reg.announced = true
	return !seen, true
}

// Unregister removes c and reports whether it was present.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	return true
}

func (r *Registry) RouteOf(c *Client) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.clients[c]
	if !ok || !reg.announced {
		return "", false
	}
	return reg.route, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot copies the connection set with the current routes; route is ""
// for connections that have not announced yet.
func (r *Registry) Snapshot() map[*Client]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[*Client]string, len(r.clients))
	for c, reg := range r.clients {
		out[c] = reg.route
	}
	return out
}

// RoomCount returns the number of distinct announced routes.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make(map[string]struct{})
	for _, reg := range r.clients {
		if reg.announced {
			routes[reg.route] = struct{}{}
		}
	}
	return len(routes)
}
