package idrange

import "fmt"

// Session is one peer's view of a shared allocation session: its pools, its
// request id sequence and the allocators it is currently running.
//
// Session does no synchronisation. Run it from a single goroutine, or use Node.
type Session struct {
	transport Transport
	registry  *Registry
	options   options
	metrics   *metrics

	lastRequestID uint32

	// pending maps the tentative reservations of this peer to the allocator
	// that owns them.
	pending map[string]*RangeAllocator
}

// NewSession creates a session that talks to the other peers through transport.
func NewSession(transport Transport, opts ...Option) *Session {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Session{
		transport: transport,
		registry:  newRegistry(options.logger),
		options:   options,
		metrics:   newMetrics(options.registerer),
		pending:   make(map[string]*RangeAllocator),
	}
}

// LocalPeer returns the id of this peer.
func (s *Session) LocalPeer() PeerID {
	return s.transport.LocalPeer()
}

// Registry returns the pool registry of the session.
func (s *Session) Registry() *Registry {
	return s.registry
}

// RegisterPool creates a root pool. Every peer of the session must register
// the same root pools under the same names.
func (s *Session) RegisterPool(name string, minIdx, maxIdx uint32) (*Pool, error) {
	return s.registry.RegisterRoot(name, minIdx, maxIdx)
}

// Execute handles one event received from a remote peer.
func (s *Session) Execute(ev Event) {
	if ev.Sender() == s.LocalPeer() {
		s.options.logger.Debug("ignoring own event", "kind", ev.Kind())
		return
	}
	s.metrics.events.WithLabelValues(ev.Kind().String()).Inc()

	switch e := ev.(type) {
	case RequestEvent:
		s.respond(e)
	case *ResponseEvent:
		// Consumed by the request rounds of this peer.
	case *FinalizeEvent:
		s.finalize(e)
	default:
		s.options.logger.Warn("unknown event", "kind", ev.Kind(), "type", fmt.Sprintf("%T", ev))
	}
}

// Close destroys every pool of the session.
func (s *Session) Close() {
	s.registry.close()
	s.pending = make(map[string]*RangeAllocator)
}

// respond answers a request with exactly one broadcast response.
func (s *Session) respond(req RequestEvent) {
	var (
		value = req.generateResponse(s)
		h     = req.header()
	)

	var resp = &ResponseEvent{
		Route:     h.Route,
		RequestID: h.RequestID,
		Requester: h.Requester,
		Responder: s.LocalPeer(),
		Value:     value,
	}
	if err := s.transport.Broadcast(resp); err != nil {
		s.options.logger.Error("failed to send response",
			"kind", req.Kind(),
			"requester", h.Requester,
			"request_id", h.RequestID,
			"error", err)
	}
}

func (s *Session) nextRequestID() uint32 {
	s.lastRequestID++
	return s.lastRequestID
}

// hint answers a HintRequest with the local start of the unallocated block.
func (s *Session) hint(poolName string) uint32 {
	var pool = s.registry.Lookup(poolName)
	if pool == nil {
		s.options.logger.Error("hint requested for unknown pool", "pool", poolName)
		return 0
	}

	var idx = pool.UnallocatedSubPoolIdx()
	s.options.logger.Debug("answering hint request", "pool", poolName, "hint", idx)
	return idx
}

// vote answers a VetoRequest. Granting it leaves a tentative reservation
// registered under the requested sub-pool name until the requester finalizes.
func (s *Session) vote(e *VetoRequest) uint32 {
	var pool = s.registry.Lookup(e.PoolName)
	if pool == nil {
		s.options.logger.Error("veto requested for unknown pool", "pool", e.PoolName, "requester", e.Requester)
		return s.deny(e)
	}

	var sub = pool.AllocSubPoolAt(e.Start, e.Size)
	if sub == nil {
		sub = s.preemptFor(pool, e)
	}
	if sub == nil {
		return s.deny(e)
	}

	if !s.registry.register(e.SubPoolName, sub, pool, e.Requester, true) {
		pool.FreeSubPool(sub)
		return s.deny(e)
	}

	s.metrics.votes.WithLabelValues("ok").Inc()
	s.options.logger.Info("granted tentative sub-pool",
		"pool", e.PoolName,
		"sub_pool", e.SubPoolName,
		"start", e.Start,
		"size", e.Size,
		"requester", e.Requester)
	return ResponseOK
}

func (s *Session) deny(e *VetoRequest) uint32 {
	s.metrics.votes.WithLabelValues("denied").Inc()
	s.options.logger.Warn("denied sub-pool",
		"pool", e.PoolName,
		"sub_pool", e.SubPoolName,
		"start", e.Start,
		"size", e.Size,
		"requester", e.Requester)
	return ResponseDenied
}

// preemptFor reserves the requested block for a lower peer id by releasing
// the tentative reservations in its way. Committed reservations and
// reservations of lower or equal peer ids are never released.
func (s *Session) preemptFor(pool *Pool, e *VetoRequest) *Pool {
	var conflicts = pool.overlapping(e.Start, e.Size)
	if len(conflicts) == 0 {
		return nil
	}

	var entries = make([]*registryEntry, 0, len(conflicts))
	for _, child := range conflicts {
		var entry, ok = s.registry.entryOf(child)
		if !ok || !entry.tentative || e.Requester >= entry.owner {
			return nil
		}
		entries = append(entries, entry)
	}

	for _, entry := range entries {
		s.metrics.preemptions.Inc()
		s.options.logger.Info("releasing tentative sub-pool for lower peer id",
			"sub_pool", entry.name,
			"owner", entry.owner,
			"requester", e.Requester)

		if a, ok := s.pending[entry.name]; ok {
			a.preempt()
			continue
		}
		s.registry.release(entry.name)
	}

	return pool.AllocSubPoolAt(e.Start, e.Size)
}

// finalize applies the decision of a remote negotiation.
func (s *Session) finalize(e *FinalizeEvent) {
	var pool = s.registry.Lookup(e.PoolName)
	if pool == nil {
		s.options.logger.Error("finalize for unknown pool", "pool", e.PoolName, "from", e.From)
		return
	}

	var sub = s.registry.Lookup(e.SubPoolName)
	if sub == nil {
		if e.Keep {
			s.reinstate(pool, e)
		} else {
			// This peer denied the request or released it for a lower peer id.
			s.options.logger.Debug("nothing to roll back", "sub_pool", e.SubPoolName, "from", e.From)
		}
		return
	}

	var entry, _ = s.registry.entryOf(sub)
	if entry.owner != e.From {
		s.options.logger.Warn("finalize from a peer that does not own the sub-pool",
			"sub_pool", e.SubPoolName,
			"owner", entry.owner,
			"from", e.From)
		return
	}

	if e.Keep {
		s.registry.confirm(e.SubPoolName)
		s.options.logger.Info("sub-pool committed", "pool", e.PoolName, "sub_pool", e.SubPoolName, "owner", e.From)
		return
	}

	s.registry.release(e.SubPoolName)
	s.options.logger.Info("sub-pool rolled back", "pool", e.PoolName, "sub_pool", e.SubPoolName, "owner", e.From)
}

// reinstate installs a kept reservation this peer no longer holds, because it
// denied the veto request or released the block for a lower peer id before
// the owner committed. Tentative reservations in the way are released: the
// owner denies every veto request that overlaps its committed block.
func (s *Session) reinstate(pool *Pool, e *FinalizeEvent) {
	var logger = s.options.logger
	if e.Size == 0 {
		logger.Error("finalized sub-pool is not reserved on this peer",
			"pool", e.PoolName,
			"sub_pool", e.SubPoolName,
			"from", e.From)
		return
	}

	var conflicts = pool.overlapping(e.Start, e.Size)
	var entries = make([]*registryEntry, 0, len(conflicts))
	for _, child := range conflicts {
		var entry, ok = s.registry.entryOf(child)
		if !ok || !entry.tentative {
			logger.Error("committed sub-pool collides with a committed reservation",
				"pool", e.PoolName,
				"sub_pool", e.SubPoolName,
				"start", e.Start,
				"size", e.Size,
				"from", e.From)
			return
		}
		entries = append(entries, entry)
	}
	for _, entry := range entries {
		if a, ok := s.pending[entry.name]; ok {
			a.preempt()
			continue
		}
		s.registry.release(entry.name)
	}

	var sub = pool.AllocSubPoolAt(e.Start, e.Size)
	if sub == nil {
		logger.Error("failed to reinstate committed sub-pool", "pool", e.PoolName, "sub_pool", e.SubPoolName)
		return
	}
	if !s.registry.register(e.SubPoolName, sub, pool, e.From, false) {
		pool.FreeSubPool(sub)
		logger.Error("failed to register committed sub-pool", "pool", e.PoolName, "sub_pool", e.SubPoolName)
		return
	}
	logger.Warn("reinstated committed sub-pool",
		"pool", e.PoolName,
		"sub_pool", e.SubPoolName,
		"start", e.Start,
		"size", e.Size,
		"owner", e.From)
}
