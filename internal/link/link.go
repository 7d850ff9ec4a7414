// Package link is the point-to-point datagram boundary between nodes: peer
// identities, the Transport contract, per-peer health and link refresh.
package link

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownPeer  = errors.New("unknown peer")
	ErrLinkDegraded = errors.New("link degraded")
)

// PeerID is the fixed-width address of a node, configured out-of-band.
type PeerID [6]byte

// ParsePeerID parses "aa:bb:cc:dd:ee:ff".
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != len(id) {
		return id, fmt.Errorf("peer id %q: want %d octets", s, len(id))
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return id, fmt.Errorf("peer id %q: bad octet %q", s, p)
		}
		id[i] = b[0]
	}
	return id, nil
}

func (p PeerID) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", p[0], p[1], p[2], p[3], p[4], p[5])
}

// UnmarshalText lets config files carry peer IDs in colon-hex form.
func (p *PeerID) UnmarshalText(b []byte) error {
	id, err := ParsePeerID(string(b))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// Datagram is one whole message received from a peer.
type Datagram struct {
	From    PeerID
	Payload []byte
}

// Transport is an unreliable, unordered datagram channel between known peers.
// Receive returns ok=false when timeout elapses without a message.
type Transport interface {
	Send(peer PeerID, payload []byte) error
	Receive(timeout time.Duration) (d Datagram, ok bool, err error)
	AddPeer(peer PeerID, channel int) error
	RemovePeer(peer PeerID) error
}

// Refresher removes and re-adds a peer to recover a degraded link.
type Refresher struct {
	Channel int
	Pause   time.Duration
	Sleep   func(time.Duration)
}

// Refresh drops peer (ignoring a missing entry), waits Pause and adds it back.
func (r Refresher) Refresh(t Transport, peer PeerID) error {
	_ = t.RemovePeer(peer)
	if r.Pause > 0 {
		sleep := r.Sleep
		if sleep == nil {
			sleep = time.Sleep
		}
		sleep(r.Pause)
	}
	if err := t.AddPeer(peer, r.Channel); err != nil {
		return fmt.Errorf("re-add peer %s: %w", peer, err)
	}
	return nil
}
