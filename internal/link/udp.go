package link

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

const maxDatagram = 1470

// UDPTransport carries link datagrams over UDP. Every peer has a fixed
// address in the directory; datagrams from addresses that are not active
// peers are dropped, like frames from a radio that is not in the peer list.
type UDPTransport struct {
	conn *net.UDPConn

	mu        sync.Mutex
	directory map[PeerID]*net.UDPAddr
	active    map[PeerID]int
	buf       []byte
}

// ListenUDP binds listen and resolves the peer directory.
func ListenUDP(listen string, directory map[PeerID]string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", listen, err)
	}
	dir := make(map[PeerID]*net.UDPAddr, len(directory))
	for id, addr := range directory {
		ua, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("resolve peer %s (%s): %w", id, addr, err)
		}
		dir[id] = ua
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listen, err)
	}
	return &UDPTransport{
		conn:      conn,
		directory: dir,
		active:    make(map[PeerID]int),
		buf:       make([]byte, maxDatagram),
	}, nil
}

// LocalAddr returns the bound address.
func (u *UDPTransport) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

func (u *UDPTransport) Send(peer PeerID, payload []byte) error {
	u.mu.Lock()
	_, ok := u.active[peer]
	addr := u.directory[peer]
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", peer, ErrUnknownPeer)
	}
	if len(payload) > maxDatagram {
		return fmt.Errorf("send to %s: payload of %d bytes exceeds %d", peer, len(payload), maxDatagram)
	}
	if _, err := u.conn.WriteToUDP(payload, addr); err != nil {
		return fmt.Errorf("send to %s: %w", peer, err)
	}
	return nil
}

func (u *UDPTransport) Receive(timeout time.Duration) (Datagram, bool, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Datagram{}, false, err
	}
	n, from, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Datagram{}, false, nil
		}
		return Datagram{}, false, fmt.Errorf("receive: %w", err)
	}

	id, ok := u.lookup(from)
	if !ok {
		return Datagram{}, false, nil
	}
	payload := make([]byte, n)
	copy(payload, u.buf[:n])
	return Datagram{From: id, Payload: payload}, true, nil
}

func (u *UDPTransport) lookup(from *net.UDPAddr) (PeerID, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for id := range u.active {
		addr := u.directory[id]
		if addr.Port == from.Port && addr.IP.Equal(from.IP) {
			return id, true
		}
	}
	return PeerID{}, false
}

// AddPeer activates a peer from the directory. The channel is recorded for
// parity with radio transports; UDP ignores it.
func (u *UDPTransport) AddPeer(peer PeerID, channel int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.directory[peer]; !ok {
		return fmt.Errorf("add %s: %w", peer, ErrUnknownPeer)
	}
	u.active[peer] = channel
	return nil
}

func (u *UDPTransport) RemovePeer(peer PeerID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.active[peer]; !ok {
		return fmt.Errorf("remove %s: %w", peer, ErrUnknownPeer)
	}
	delete(u.active, peer)
	return nil
}

func (u *UDPTransport) Close() error {
	return u.conn.Close()
}
