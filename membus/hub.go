// Package membus connects peers living in one process. Every event is
// encoded and decoded with the same codec the network transports use, and
// each peer receives events in the order every single sender broadcast them.
package membus

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	idrange "go-idrange"
)

var (
	// ErrPeerExists is returned when a peer id joins a hub twice.
	ErrPeerExists = errors.New("peer already joined")

	// ErrPeerLeft is returned when a peer that left the hub broadcasts.
	ErrPeerLeft = errors.New("peer left the hub")
)

// Hub routes events between the peers that joined it.
type Hub struct {
	mu     sync.RWMutex
	peers  map[idrange.PeerID]*Peer
	logger *slog.Logger
}

// NewHub creates an empty hub.
// If the logger is nil, the hub will use a no-op logger.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		peers:  make(map[idrange.PeerID]*Peer),
		logger: logger,
	}
}

// Join adds a peer to the hub.
func (h *Hub) Join(id idrange.PeerID) (*Peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.peers[id]; exists {
		return nil, fmt.Errorf("failed to join %s: %w", id, ErrPeerExists)
	}

	var p = &Peer{
		hub:    h,
		id:     id,
		signal: make(chan struct{}, 1),
		inbox:  make(chan idrange.Event),
		closed: make(chan struct{}),
	}
	h.peers[id] = p
	go p.pump()

	h.logger.Debug("peer joined hub", "peer_id", id, "peers", len(h.peers))
	return p, nil
}

// Peers returns the ids of all joined peers in lexical order.
func (h *Hub) Peers() []idrange.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ids = make([]idrange.PeerID, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) broadcast(from *Peer, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.peers[from.id] != from {
		return fmt.Errorf("failed to broadcast from %s: %w", from.id, ErrPeerLeft)
	}
	for id, p := range h.peers {
		if id == from.id {
			continue
		}
		p.enqueue(data)
	}
	return nil
}

func (h *Hub) leave(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.peers[p.id] == p {
		delete(h.peers, p.id)
		h.logger.Debug("peer left hub", "peer_id", p.id, "peers", len(h.peers))
	}
}
