package idrange

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	var counterValue = func(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
		for _, family := range families {
			if family.GetName() != name {
				continue
			}
			for _, metric := range family.GetMetric() {
				var matches = true
				for _, pair := range metric.GetLabel() {
					if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
						matches = false
					}
				}
				if matches {
					return metric.GetCounter().GetValue()
				}
			}
		}
		t.Fatalf("metric %s%v not found", name, labels)
		return 0
	}

	t.Run("should count rounds, votes and outcomes of a contested negotiation", func(t *testing.T) {
		// Arrange
		var (
			registry = prometheus.NewRegistry()
			n        = newSimNetwork([]PeerID{"peer-a", "peer-b"}, WithRegisterer(registry))
		)
		n.registerPool("P", 0, 999)
		n.peer("peer-a").newAllocator().RequestAllocation("P", 10, 1)
		n.peer("peer-b").newAllocator().RequestAllocation("P", 10, 2)

		// Act
		n.run()
		var families, err = registry.Gather()

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 2.0, counterValue(t, families, "idrange_rounds_started_total", map[string]string{"round": "hint"}))
		assert.Equal(t, 1.0, counterValue(t, families, "idrange_allocations_total", map[string]string{"outcome": "committed"}))
		assert.Equal(t, 1.0, counterValue(t, families, "idrange_allocations_total", map[string]string{"outcome": "preempted"}))
		assert.Equal(t, 1.0, counterValue(t, families, "idrange_preemptions_total", nil))
		assert.Equal(t, 1.0, counterValue(t, families, "idrange_veto_votes_total", map[string]string{"vote": "denied"}))
	})

	t.Run("should share collectors between sessions of one registry", func(t *testing.T) {
		// Arrange
		var registry = prometheus.NewRegistry()

		// Act
		var first = newMetrics(registry)
		var second = newMetrics(registry)

		// Assert
		assert.Same(t, first.outcomes, second.outcomes)
		assert.Equal(t, first.preemptions, second.preemptions)
	})
}
