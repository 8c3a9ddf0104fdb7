package idrange

// Transport delivers events to the other participants of a session.
// Delivery is assumed reliable and FIFO per sender; no ordering is assumed
// across senders.
type Transport interface {
	// LocalPeer returns the id of this participant.
	LocalPeer() PeerID

	// RemoteParticipants returns the number of other participants currently in the session.
	RemoteParticipants() int

	// Broadcast sends an event to every remote participant, never to the local one.
	Broadcast(ev Event) error
}

// InboundTransport is a Transport that also hands over events received from remote peers.
type InboundTransport interface {
	Transport

	// Inbox delivers decoded remote events in arrival order.
	Inbox() <-chan Event
}
