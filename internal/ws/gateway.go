package ws

import "sync"

// Gateway indexes live connections by user.
type Gateway struct {
	mu    sync.RWMutex
	users map[int]map[*Client]struct{}
}

func NewGateway() *Gateway {
	return &Gateway{users: make(map[int]map[*Client]struct{})}
}

// Add registers c and reports whether it is the user's first connection.
func (g *Gateway) Add(c *Client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.users[c.UserID()]
	if !ok {
		set = make(map[*Client]struct{})
		g.users[c.UserID()] = set
	}
	set[c] = struct{}{}
	return len(set) == 1
}

// Remove drops c. removed is false when c was not registered; last is true
// when it was the user's final connection.
func (g *Gateway) Remove(c *Client) (removed, last bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.users[c.UserID()]
	if !ok {
		return false, false
	}
	if _, ok := set[c]; !ok {
		return false, false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(g.users, c.UserID())
		return true, true
	}
	return true, false
}

func (g *Gateway) Clients(userID int) []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Client, 0, len(g.users[userID]))
	for c := range g.users[userID] {
		out = append(out, c)
	}
	return out
}

// SendToUser delivers f to every live connection of the user.
func (g *Gateway) SendToUser(userID int, f Frame) int {
	sent := 0
	for _, c := range g.Clients(userID) {
		if c.Send(f) {
			sent++
		}
	}
	return sent
}

// BroadcastAll delivers f to every live connection.
func (g *Gateway) BroadcastAll(f Frame) int {
	sent := 0
	for _, c := range g.all() {
		if c.Send(f) {
			sent++
		}
	}
	return sent
}

func (g *Gateway) all() []*Client {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Client, 0, len(g.users))
	for _, set := range g.users {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Connections is the number of live connections.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, set := range g.users {
		n += len(set)
	}
	return n
}
