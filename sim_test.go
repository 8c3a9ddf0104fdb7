package idrange

import (
	"time"
)

// simNetwork delivers events between sessions in a deterministic order.
// Each receiver queues events in the order the senders broadcast them.
type simNetwork struct {
	peers []*simPeer
	sent  []Event
}

type simPeer struct {
	net        *simNetwork
	id         PeerID
	inbox      []Event
	session    *Session
	allocators []*RangeAllocator
}

func newSimNetwork(ids []PeerID, opts ...Option) *simNetwork {
	var n = &simNetwork{}
	for _, id := range ids {
		var p = &simPeer{net: n, id: id}
		p.session = NewSession(p, opts...)
		n.peers = append(n.peers, p)
	}
	return n
}

func (n *simNetwork) peer(id PeerID) *simPeer {
	for _, p := range n.peers {
		if p.id == id {
			return p
		}
	}
	return nil
}

// registerPool registers the same root pool on every peer.
func (n *simNetwork) registerPool(name string, minIdx, maxIdx uint32) {
	for _, p := range n.peers {
		if _, err := p.session.RegisterPool(name, minIdx, maxIdx); err != nil {
			panic(err)
		}
	}
}

// run delivers queued events round-robin until every inbox is empty.
func (n *simNetwork) run() {
	for progress := true; progress; {
		progress = false
		for _, p := range n.peers {
			if p.deliverNext() {
				progress = true
			}
		}
	}
}

// sentOf returns the events of one kind broadcast so far.
func (n *simNetwork) sentOf(kind EventKind) []Event {
	var events []Event
	for _, ev := range n.sent {
		if ev.Kind() == kind {
			events = append(events, ev)
		}
	}
	return events
}

func (p *simPeer) LocalPeer() PeerID { return p.id }

func (p *simPeer) RemoteParticipants() int { return len(p.net.peers) - 1 }

func (p *simPeer) Broadcast(ev Event) error {
	var data, err = EncodeEvent(ev)
	if err != nil {
		return err
	}
	for _, other := range p.net.peers {
		if other == p {
			continue
		}
		var decoded, err = DecodeEvent(data)
		if err != nil {
			return err
		}
		other.inbox = append(other.inbox, decoded)
	}

	var sent, _ = DecodeEvent(data)
	p.net.sent = append(p.net.sent, sent)
	return nil
}

func (p *simPeer) newAllocator() *RangeAllocator {
	var a = p.session.NewAllocator()
	p.allocators = append(p.allocators, a)
	return a
}

// deliverNext executes the oldest queued event the way a Node does.
func (p *simPeer) deliverNext() bool {
	if len(p.inbox) == 0 {
		return false
	}
	var ev = p.inbox[0]
	p.inbox = p.inbox[1:]

	p.session.Execute(ev)
	for _, a := range p.allocators {
		if a.State() == StateIssued {
			a.HandleIncomingEvent(ev)
		}
	}
	return true
}

// dropInbox loses every queued event, as a crashed peer would.
func (p *simPeer) dropInbox() {
	p.inbox = nil
}

// childRanges returns the [min, max] pairs of a pool's children.
func childRanges(pool *Pool) [][2]uint32 {
	var ranges [][2]uint32
	for _, child := range pool.Children() {
		ranges = append(ranges, [2]uint32{child.MinIdx(), child.MaxIdx()})
	}
	return ranges
}

// manualClock is a clock tests advance explicitly.
type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
