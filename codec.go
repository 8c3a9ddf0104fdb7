package idrange

import (
	"errors"
	"fmt"

	"go-idrange/wire"
)

// ErrMalformedEvent is returned when an encoded event cannot be decoded.
var ErrMalformedEvent = errors.New("malformed event")

type decoder func(r *wire.Reader) (Event, error)

// decoders is indexed by EventKind.
var decoders = [...]decoder{
	KindHintRequest: decodeHintRequest,
	KindVetoRequest: decodeVetoRequest,
	KindResponse:    decodeResponse,
	KindFinalize:    decodeFinalize,
}

// EncodeEvent serialises an event, prefixed by its kind.
func EncodeEvent(ev Event) ([]byte, error) {
	var w = wire.NewWriter(64)
	w.WriteUint8(uint8(ev.Kind()))

	switch e := ev.(type) {
	case *HintRequest:
		writeRequestHeader(w, &e.RequestHeader)
		w.WriteString(e.PoolName)
	case *VetoRequest:
		writeRequestHeader(w, &e.RequestHeader)
		w.WriteUint32(e.Start)
		w.WriteUint32(e.Size)
		w.WriteString(e.PoolName)
		w.WriteString(e.SubPoolName)
	case *ResponseEvent:
		w.WriteUint32(uint32(e.Route))
		w.WriteUint32(e.Value)
		w.WriteUint32(e.RequestID)
		w.WriteString(string(e.Requester))
		w.WriteString(string(e.Responder))
	case *FinalizeEvent:
		w.WriteUint32(uint32(e.Route))
		w.WriteUint32(e.Start)
		w.WriteUint32(e.Size)
		w.WriteBool(e.Keep)
		w.WriteString(string(e.From))
		w.WriteString(e.PoolName)
		w.WriteString(e.SubPoolName)
	default:
		return nil, fmt.Errorf("failed to encode event of type %T: unsupported", ev)
	}

	return w.Bytes(), nil
}

// DecodeEvent parses data produced by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var r = wire.NewReader(data)

	var kind, err = r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if int(kind) >= len(decoders) || decoders[kind] == nil {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedEvent, kind)
	}

	ev, err := decoders[kind](r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, EventKind(kind), err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %s: %d trailing bytes", ErrMalformedEvent, EventKind(kind), r.Remaining())
	}
	return ev, nil
}

func writeRequestHeader(w *wire.Writer, h *RequestHeader) {
	w.WriteUint32(uint32(h.Route))
	w.WriteUint32(h.RequestID)
	w.WriteString(string(h.Requester))
}

func readRequestHeader(r *wire.Reader, h *RequestHeader) error {
	route, err := r.ReadUint32()
	if err != nil {
		return err
	}
	requestID, err := r.ReadUint32()
	if err != nil {
		return err
	}
	requester, err := r.ReadString()
	if err != nil {
		return err
	}
	h.Route = RouteID(route)
	h.RequestID = requestID
	h.Requester = PeerID(requester)
	return nil
}

func decodeHintRequest(r *wire.Reader) (Event, error) {
	var e = &HintRequest{}
	if err := readRequestHeader(r, &e.RequestHeader); err != nil {
		return nil, err
	}
	poolName, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	e.PoolName = poolName
	return e, nil
}

func decodeVetoRequest(r *wire.Reader) (Event, error) {
	var e = &VetoRequest{}
	if err := readRequestHeader(r, &e.RequestHeader); err != nil {
		return nil, err
	}
	start, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	size, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	poolName, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	subPoolName, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	e.Start = start
	e.Size = size
	e.PoolName = poolName
	e.SubPoolName = subPoolName
	return e, nil
}

func decodeResponse(r *wire.Reader) (Event, error) {
	route, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	value, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	requestID, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	requester, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	responder, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &ResponseEvent{
		Route:     RouteID(route),
		RequestID: requestID,
		Requester: PeerID(requester),
		Responder: PeerID(responder),
		Value:     value,
	}, nil
}

func decodeFinalize(r *wire.Reader) (Event, error) {
	route, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	start, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	size, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	keep, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	from, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	poolName, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	subPoolName, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &FinalizeEvent{
		Route:       RouteID(route),
		From:        PeerID(from),
		PoolName:    poolName,
		SubPoolName: subPoolName,
		Start:       start,
		Size:        size,
		Keep:        keep,
	}, nil
}
