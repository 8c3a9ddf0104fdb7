package idrange

import "fmt"

// Response values of a veto round.
const (
	ResponseDenied uint32 = 0
	ResponseOK     uint32 = 1
)

// EventKind is the stable wire identifier of an event type.
type EventKind uint8

const (
	KindHintRequest EventKind = iota + 1
	KindVetoRequest
	KindResponse
	KindFinalize
)

func (k EventKind) String() string {
	switch k {
	case KindHintRequest:
		return "hint_request"
	case KindVetoRequest:
		return "veto_request"
	case KindResponse:
		return "response"
	case KindFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is one message exchanged between the peers of a session.
type Event interface {
	Kind() EventKind
	Sender() PeerID
}

// RequestEvent is an event every receiving peer answers with exactly one ResponseEvent.
type RequestEvent interface {
	Event
	header() *RequestHeader
	// generateResponse computes the answer from the responder's local state.
	generateResponse(s *Session) uint32
}

// RequestHeader carries the correlation pair of a request.
type RequestHeader struct {
	Route     RouteID
	RequestID uint32
	Requester PeerID
}

func (h *RequestHeader) header() *RequestHeader { return h }

// Sender returns the requesting peer.
func (h *RequestHeader) Sender() PeerID { return h.Requester }

// HintRequest asks every peer for the start of its unallocated block in a pool.
type HintRequest struct {
	RequestHeader
	PoolName string
}

// Kind implements Event.
func (e *HintRequest) Kind() EventKind { return KindHintRequest }

func (e *HintRequest) generateResponse(s *Session) uint32 {
	return s.hint(e.PoolName)
}

// VetoRequest asks every peer to tentatively reserve [Start, Start+Size-1].
type VetoRequest struct {
	RequestHeader
	PoolName    string
	SubPoolName string
	Start       uint32
	Size        uint32
}

// Kind implements Event.
func (e *VetoRequest) Kind() EventKind { return KindVetoRequest }

func (e *VetoRequest) generateResponse(s *Session) uint32 {
	return s.vote(e)
}

// ResponseEvent answers a request. It is addressed to Requester and RequestID.
type ResponseEvent struct {
	Route     RouteID
	RequestID uint32
	Requester PeerID
	Responder PeerID
	Value     uint32
}

// Kind implements Event.
func (e *ResponseEvent) Kind() EventKind { return KindResponse }

// Sender returns the responding peer.
func (e *ResponseEvent) Sender() PeerID { return e.Responder }

// FinalizeEvent tells every peer whether a tentative reservation is kept.
// It is never answered. Start and Size repeat the reserved block so a peer
// that already released its copy can reinstate a kept reservation.
type FinalizeEvent struct {
	Route       RouteID
	From        PeerID
	PoolName    string
	SubPoolName string
	Start       uint32
	Size        uint32
	Keep        bool
}

// Kind implements Event.
func (e *FinalizeEvent) Kind() EventKind { return KindFinalize }

// Sender returns the peer that ran the negotiation.
func (e *FinalizeEvent) Sender() PeerID { return e.From }
