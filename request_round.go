package idrange

import "time"

// Response is one peer's answer to a request round.
type Response struct {
	Value     uint32
	Responder PeerID
}

// RequestRound broadcasts a single request and collects one response from
// every remote participant, or as many as arrive before the round times out.
type RequestRound struct {
	session *Session
	name    string

	requestID  uint32
	waitingFor int
	responses  []Response
	startTime  time.Time
	state      RoundState
	timedOut   bool
}

// NewRequestRound creates an idle round bound to the session. The name
// labels the round in logs and metrics.
func (s *Session) NewRequestRound(name string) *RequestRound {
	return &RequestRound{
		session: s,
		name:    name,
	}
}

// Start stamps req with a fresh request id and the local peer, then
// broadcasts it. A round that is still waiting refuses to start again.
func (r *RequestRound) Start(req RequestEvent) bool {
	var logger = r.session.options.logger
	if r.state == RoundIssued {
		logger.Warn("request round already issued", "round", r.name, "request_id", r.requestID)
		return false
	}

	var h = req.header()
	h.RequestID = r.session.nextRequestID()
	h.Requester = r.session.LocalPeer()

	r.requestID = h.RequestID
	r.waitingFor = r.session.transport.RemoteParticipants()
	r.responses = nil
	r.timedOut = false
	r.startTime = r.session.options.now()
	r.session.metrics.roundsStarted.WithLabelValues(r.name).Inc()

	if r.waitingFor <= 0 {
		logger.Debug("no remote participants, request round finished immediately",
			"round", r.name, "request_id", r.requestID)
		r.waitingFor = 0
		r.state = RoundFinished
		return true
	}

	r.state = RoundIssued
	if err := r.session.transport.Broadcast(req); err != nil {
		// The timeout still bounds the round.
		logger.Error("failed to broadcast request", "round", r.name, "request_id", r.requestID, "error", err)
	}

	logger.Debug("request round issued",
		"round", r.name,
		"request_id", r.requestID,
		"waiting_for", r.waitingFor)
	return true
}

// HandleIncomingEvent records ev if it answers the current request.
func (r *RequestRound) HandleIncomingEvent(ev Event) {
	if r.CheckTimeout() {
		return
	}

	var resp, ok = ev.(*ResponseEvent)
	if !ok {
		return
	}
	if resp.Requester != r.session.LocalPeer() || resp.RequestID != r.requestID {
		return
	}

	var logger = r.session.options.logger
	switch r.state {
	case RoundNone:
		logger.Warn("response for a round that was never started", "round", r.name, "responder", resp.Responder)
		return
	case RoundFinished:
		logger.Debug("dropping late response",
			"round", r.name,
			"request_id", r.requestID,
			"responder", resp.Responder)
		return
	}

	for _, seen := range r.responses {
		if seen.Responder == resp.Responder {
			logger.Warn("dropping duplicate response",
				"round", r.name,
				"request_id", r.requestID,
				"responder", resp.Responder)
			return
		}
	}

	r.responses = append(r.responses, Response{Value: resp.Value, Responder: resp.Responder})
	if len(r.responses) >= r.waitingFor {
		r.state = RoundFinished
		logger.Debug("request round complete", "round", r.name, "request_id", r.requestID)
	}
}

// CheckTimeout finishes an issued round whose timeout elapsed, keeping the
// responses received so far. It reports whether the timeout fired.
func (r *RequestRound) CheckTimeout() bool {
	if r.state != RoundIssued {
		return false
	}
	if r.session.options.now().Sub(r.startTime) <= r.session.options.roundTimeout {
		return false
	}

	r.state = RoundFinished
	r.timedOut = true
	r.session.metrics.roundsTimedOut.WithLabelValues(r.name).Inc()
	r.session.options.logger.Warn("request round timed out",
		"round", r.name,
		"request_id", r.requestID,
		"received", len(r.responses),
		"waiting_for", r.waitingFor)
	return true
}

// abandon stops waiting without a timeout. Later responses are dropped.
func (r *RequestRound) abandon() {
	if r.state == RoundIssued {
		r.state = RoundFinished
	}
}

// State returns the lifecycle state of the round.
func (r *RequestRound) State() RoundState { return r.state }

// Responses returns the responses received so far in arrival order.
func (r *RequestRound) Responses() []Response {
	var out = make([]Response, len(r.responses))
	copy(out, r.responses)
	return out
}

// RequestID returns the id of the current or last request.
func (r *RequestRound) RequestID() uint32 { return r.requestID }

// WaitingFor returns how many responses the round expects.
func (r *RequestRound) WaitingFor() int { return r.waitingFor }

// TimedOut reports whether the round finished by timeout.
func (r *RequestRound) TimedOut() bool { return r.timedOut }
