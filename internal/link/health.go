package link

import "time"

// Health tracks when a peer was last heard from and last refreshed.
type Health struct {
	LastMessageAt time.Time
	LastRefreshAt time.Time
}

// quietSince is the later of the last message and the last refresh.
func (h Health) quietSince() time.Time {
	if h.LastRefreshAt.After(h.LastMessageAt) {
		return h.LastRefreshAt
	}
	return h.LastMessageAt
}

// Peers is the health table for every remote peer. It is owned by a single
// goroutine and does no locking.
type Peers struct {
	order   []PeerID
	entries map[PeerID]*Health
}

// NewPeers starts every peer as freshly heard at now.
func NewPeers(now time.Time, ids ...PeerID) *Peers {
	p := &Peers{entries: make(map[PeerID]*Health, len(ids))}
	for _, id := range ids {
		if _, dup := p.entries[id]; dup {
			continue
		}
		p.order = append(p.order, id)
		p.entries[id] = &Health{LastMessageAt: now, LastRefreshAt: now}
	}
	return p
}

// IDs returns the peers in configuration order.
func (p *Peers) IDs() []PeerID {
	return append([]PeerID(nil), p.order...)
}

// Touch records a successfully decoded message from id.
func (p *Peers) Touch(id PeerID, now time.Time) bool {
	h, ok := p.entries[id]
	if ok {
		h.LastMessageAt = now
	}
	return ok
}

// Refreshed records a link refresh of id.
func (p *Peers) Refreshed(id PeerID, now time.Time) {
	if h, ok := p.entries[id]; ok {
		h.LastRefreshAt = now
	}
}

func (p *Peers) Get(id PeerID) (Health, bool) {
	h, ok := p.entries[id]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// Stale lists peers with no message and no refresh for at least timeout.
func (p *Peers) Stale(now time.Time, timeout time.Duration) []PeerID {
	var out []PeerID
	for _, id := range p.order {
		if now.Sub(p.entries[id].quietSince()) >= timeout {
			out = append(out, id)
		}
	}
	return out
}
