package idrange

import "fmt"

// PeerID identifies one participant of a session.
type PeerID string

// RouteID is an opaque routing id carried by every event of a negotiation.
// Responses echo the route of the request they answer.
type RouteID uint32

// Range is a committed, inclusive id range owned by this peer.
type Range struct {
	Name   string
	MinIdx uint32
	MaxIdx uint32
}

// Size returns the number of ids in the range.
func (r Range) Size() uint32 {
	return r.MaxIdx - r.MinIdx + 1
}

func (r Range) String() string {
	return fmt.Sprintf("%s[%d..%d]", r.Name, r.MinIdx, r.MaxIdx)
}

// RoundState is the lifecycle of a RequestRound.
type RoundState int

const (
	RoundNone RoundState = iota
	RoundIssued
	RoundFinished
)

func (s RoundState) String() string {
	switch s {
	case RoundNone:
		return "none"
	case RoundIssued:
		return "issued"
	case RoundFinished:
		return "finished"
	default:
		return fmt.Sprintf("RoundState(%d)", int(s))
	}
}

// AllocatorState is the externally visible state of a RangeAllocator.
type AllocatorState int

const (
	StateIdle AllocatorState = iota
	StateIssued
	StateFinished
)

func (s AllocatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIssued:
		return "issued"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("AllocatorState(%d)", int(s))
	}
}

// Outcome records why a negotiation ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCommitted
	OutcomeUnknownPool
	OutcomeInvalidSize
	OutcomeLocalConflict
	OutcomeDenied
	OutcomePreempted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCommitted:
		return "committed"
	case OutcomeUnknownPool:
		return "unknown_pool"
	case OutcomeInvalidSize:
		return "invalid_size"
	case OutcomeLocalConflict:
		return "local_conflict"
	case OutcomeDenied:
		return "denied"
	case OutcomePreempted:
		return "preempted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// PoolInfo is a read-only snapshot of a registered pool.
type PoolInfo struct {
	Name      string     `json:"name"`
	MinIdx    uint32     `json:"min_idx"`
	MaxIdx    uint32     `json:"max_idx"`
	Owner     PeerID     `json:"owner,omitempty"`
	Tentative bool       `json:"tentative,omitempty"`
	FreeCount uint64     `json:"free_count"`
	Children  []PoolInfo `json:"children,omitempty"`
}
