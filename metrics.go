package idrange

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics groups the collectors of a session.
type metrics struct {
	roundsStarted  *prometheus.CounterVec
	roundsTimedOut *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	votes          *prometheus.CounterVec
	events         *prometheus.CounterVec
	preemptions    prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	var m = &metrics{
		roundsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idrange",
			Name:      "rounds_started_total",
			Help:      "Request rounds issued by this peer.",
		}, []string{"round"}),
		roundsTimedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idrange",
			Name:      "rounds_timed_out_total",
			Help:      "Request rounds finished by timeout with partial responses.",
		}, []string{"round"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idrange",
			Name:      "allocations_total",
			Help:      "Finished range negotiations by outcome.",
		}, []string{"outcome"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idrange",
			Name:      "veto_votes_total",
			Help:      "Answers this peer gave to veto requests.",
		}, []string{"vote"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idrange",
			Name:      "events_executed_total",
			Help:      "Remote events executed by this peer.",
		}, []string{"kind"}),
		preemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "idrange",
			Name:      "preemptions_total",
			Help:      "Tentative reservations released for a lower peer id.",
		}),
	}

	if registerer == nil {
		return m
	}

	m.roundsStarted = register(registerer, m.roundsStarted)
	m.roundsTimedOut = register(registerer, m.roundsTimedOut)
	m.outcomes = register(registerer, m.outcomes)
	m.votes = register(registerer, m.votes)
	m.events = register(registerer, m.events)
	m.preemptions = register(registerer, m.preemptions)
	return m
}

// register adds c to the registry, reusing an identical collector that a
// previous session already registered.
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
