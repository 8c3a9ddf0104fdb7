package idrange

import "github.com/google/uuid"

type allocPhase int

const (
	phaseIdle allocPhase = iota
	phaseHint
	phaseVeto
	phaseFinished
)

// RangeAllocator negotiates one sub-pool with every other peer of the
// session. It first asks all peers where their unallocated block starts
// (hint round), reserves the highest hint locally and then asks all peers to
// reserve the same block (veto round). A single denial rolls the
// reservation back everywhere.
//
// A finished allocator may be reused for another request.
type RangeAllocator struct {
	session  *Session
	instance string
	attempt  uint32

	hintRound *RequestRound
	vetoRound *RequestRound

	phase       allocPhase
	route       RouteID
	poolName    string
	subPoolName string
	size        uint32
	start       uint32
	localPool   *Pool
	tentative   *Pool
	result      *Pool
	outcome     Outcome
}

// NewAllocator creates an idle allocator bound to the session.
func (s *Session) NewAllocator() *RangeAllocator {
	return &RangeAllocator{
		session:   s,
		instance:  uuid.NewString(),
		hintRound: s.NewRequestRound("hint"),
		vetoRound: s.NewRequestRound("veto"),
	}
}

// RequestAllocation starts negotiating a sub-pool of size ids inside the
// named pool. Every event of the negotiation carries route.
func (a *RangeAllocator) RequestAllocation(poolName string, size uint32, route RouteID) {
	var logger = a.session.options.logger
	if a.phase == phaseHint || a.phase == phaseVeto {
		logger.Error("allocation already in progress", "pool", a.poolName, "size", a.size)
		return
	}

	a.attempt++
	a.route = route
	a.poolName = poolName
	a.subPoolName = ""
	a.size = size
	a.start = 0
	a.tentative = nil
	a.result = nil
	a.outcome = OutcomeNone

	a.localPool = a.session.registry.Lookup(poolName)
	if a.localPool == nil {
		logger.Warn("cannot allocate from unknown pool", "pool", poolName)
		a.finish(OutcomeUnknownPool)
		return
	}
	if size == 0 {
		logger.Warn("cannot allocate sub-pool of size 0", "pool", poolName)
		a.finish(OutcomeInvalidSize)
		return
	}

	logger.Info("requesting sub-pool", "pool", poolName, "size", size, "route", route)
	a.phase = phaseHint
	a.hintRound.Start(&HintRequest{
		RequestHeader: RequestHeader{Route: route},
		PoolName:      poolName,
	})
	a.advance()
}

// HandleIncomingEvent feeds a remote event to the round currently running.
func (a *RangeAllocator) HandleIncomingEvent(ev Event) {
	switch a.phase {
	case phaseIdle:
		a.session.options.logger.Warn("allocator received event while idle", "kind", ev.Kind())
		return
	case phaseFinished:
		return
	case phaseHint:
		a.hintRound.HandleIncomingEvent(ev)
	case phaseVeto:
		a.vetoRound.HandleIncomingEvent(ev)
	}
	a.advance()
}

// CheckTimeout lets the running round give up waiting and advances the
// negotiation with the responses received so far.
func (a *RangeAllocator) CheckTimeout() {
	switch a.phase {
	case phaseHint:
		a.hintRound.CheckTimeout()
	case phaseVeto:
		a.vetoRound.CheckTimeout()
	default:
		return
	}
	a.advance()
}

// State returns the externally visible state of the allocator.
func (a *RangeAllocator) State() AllocatorState {
	switch a.phase {
	case phaseHint, phaseVeto:
		return StateIssued
	case phaseFinished:
		return StateFinished
	default:
		return StateIdle
	}
}

// Result returns the committed sub-pool, or nil if the negotiation failed
// or has not finished yet.
func (a *RangeAllocator) Result() *Pool {
	if a.phase != phaseFinished {
		a.session.options.logger.Warn("allocation result requested before the negotiation finished",
			"pool", a.poolName)
		return nil
	}
	return a.result
}

// Range returns the committed range, if any.
func (a *RangeAllocator) Range() (Range, bool) {
	if a.phase != phaseFinished || a.result == nil {
		return Range{}, false
	}
	return a.result.Range(a.subPoolName), true
}

// Outcome reports why the last negotiation ended.
func (a *RangeAllocator) Outcome() Outcome { return a.outcome }

// SubPoolName returns the name of the current or last reservation.
func (a *RangeAllocator) SubPoolName() string { return a.subPoolName }

// advance moves through every phase whose round already finished.
func (a *RangeAllocator) advance() {
	for {
		switch a.phase {
		case phaseHint:
			if a.hintRound.State() != RoundFinished {
				return
			}
			a.reserve()
		case phaseVeto:
			if a.vetoRound.State() != RoundFinished {
				return
			}
			a.conclude()
		default:
			return
		}
	}
}

// reserve picks the highest hint, reserves it locally and starts the veto round.
func (a *RangeAllocator) reserve() {
	var (
		logger = a.session.options.logger
		local  = a.session.LocalPeer()
		start  = a.localPool.UnallocatedSubPoolIdx()
	)
	for _, r := range a.hintRound.Responses() {
		if r.Value > start {
			start = r.Value
		}
	}

	a.start = start
	a.subPoolName = subPoolName(a.poolName, local, a.instance, a.attempt, start, a.size)

	a.tentative = a.localPool.AllocSubPoolAt(start, a.size)
	if a.tentative == nil {
		logger.Warn("could not reserve sub-pool locally",
			"pool", a.poolName, "start", start, "size", a.size)
		a.broadcastFinalize(false)
		a.finish(OutcomeLocalConflict)
		return
	}
	if !a.session.registry.register(a.subPoolName, a.tentative, a.localPool, local, true) {
		a.localPool.FreeSubPool(a.tentative)
		a.tentative = nil
		a.broadcastFinalize(false)
		a.finish(OutcomeLocalConflict)
		return
	}
	a.session.pending[a.subPoolName] = a

	logger.Info("reserved sub-pool tentatively",
		"pool", a.poolName,
		"sub_pool", a.subPoolName,
		"start", start,
		"size", a.size)

	a.phase = phaseVeto
	a.vetoRound.Start(&VetoRequest{
		RequestHeader: RequestHeader{Route: a.route},
		PoolName:      a.poolName,
		SubPoolName:   a.subPoolName,
		Start:         start,
		Size:          a.size,
	})
}

// conclude commits the reservation if no peer denied it.
func (a *RangeAllocator) conclude() {
	delete(a.session.pending, a.subPoolName)

	for _, r := range a.vetoRound.Responses() {
		if r.Value == ResponseOK {
			continue
		}
		a.session.options.logger.Warn("sub-pool denied",
			"pool", a.poolName,
			"sub_pool", a.subPoolName,
			"by", r.Responder)
		a.session.registry.release(a.subPoolName)
		a.tentative = nil
		a.broadcastFinalize(false)
		a.finish(OutcomeDenied)
		return
	}

	a.broadcastFinalize(true)
	a.session.registry.confirm(a.subPoolName)
	a.result = a.tentative
	a.tentative = nil
	a.finish(OutcomeCommitted)
}

// preempt gives up the tentative reservation in favour of a lower peer id.
func (a *RangeAllocator) preempt() {
	if a.phase != phaseVeto {
		return
	}

	delete(a.session.pending, a.subPoolName)
	a.vetoRound.abandon()
	a.session.registry.release(a.subPoolName)
	a.tentative = nil
	a.broadcastFinalize(false)
	a.finish(OutcomePreempted)
}

func (a *RangeAllocator) broadcastFinalize(keep bool) {
	var ev = &FinalizeEvent{
		Route:       a.route,
		From:        a.session.LocalPeer(),
		PoolName:    a.poolName,
		SubPoolName: a.subPoolName,
		Start:       a.start,
		Size:        a.size,
		Keep:        keep,
	}
	if err := a.session.transport.Broadcast(ev); err != nil {
		a.session.options.logger.Error("failed to broadcast finalize",
			"sub_pool", a.subPoolName, "keep", keep, "error", err)
	}
}

func (a *RangeAllocator) finish(outcome Outcome) {
	a.phase = phaseFinished
	a.outcome = outcome
	a.session.metrics.outcomes.WithLabelValues(outcome.String()).Inc()

	var logger = a.session.options.logger
	if outcome == OutcomeCommitted {
		logger.Info("sub-pool allocated",
			"pool", a.poolName,
			"sub_pool", a.subPoolName,
			"start", a.start,
			"size", a.size)
		return
	}
	logger.Warn("sub-pool allocation failed", "pool", a.poolName, "size", a.size, "outcome", outcome)
}
