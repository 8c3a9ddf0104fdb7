package membus

import (
	"sync"

	idrange "go-idrange"
)

// Peer is one participant of a Hub. It implements idrange.InboundTransport.
type Peer struct {
	hub *Hub
	id  idrange.PeerID

	// queue is unbounded so a broadcasting poll loop never waits for a
	// receiver that is broadcasting itself.
	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}

	inbox     chan idrange.Event
	closed    chan struct{}
	closeOnce sync.Once
}

// LocalPeer implements idrange.Transport.
func (p *Peer) LocalPeer() idrange.PeerID {
	return p.id
}

// RemoteParticipants implements idrange.Transport.
func (p *Peer) RemoteParticipants() int {
	var count = p.hub.count() - 1
	if count < 0 {
		return 0
	}
	return count
}

// Broadcast implements idrange.Transport.
func (p *Peer) Broadcast(ev idrange.Event) error {
	var data, err = idrange.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return p.hub.broadcast(p, data)
}

// Inbox implements idrange.InboundTransport. It is closed by Leave.
func (p *Peer) Inbox() <-chan idrange.Event {
	return p.inbox
}

// Leave removes the peer from the hub. Queued events are discarded.
func (p *Peer) Leave() {
	p.hub.leave(p)
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}

func (p *Peer) enqueue(data []byte) {
	p.mu.Lock()
	p.queue = append(p.queue, data)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Peer) dequeue() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return nil, false
	}
	var data = p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return data, true
}

// pump decodes queued events into the inbox until the peer leaves.
func (p *Peer) pump() {
	defer close(p.inbox)

	for {
		var data, ok = p.dequeue()
		if !ok {
			select {
			case <-p.signal:
				continue
			case <-p.closed:
				return
			}
		}

		var ev, err = idrange.DecodeEvent(data)
		if err != nil {
			p.hub.logger.Warn("dropping undecodable event", "peer_id", p.id, "error", err)
			continue
		}

		select {
		case p.inbox <- ev:
		case <-p.closed:
			return
		}
	}
}
