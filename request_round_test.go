package idrange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRound(t *testing.T) {
	var setup = func(ids ...PeerID) (*simNetwork, *manualClock, *RequestRound) {
		var (
			clock = newManualClock()
			n     = newSimNetwork(ids, WithClock(clock.Now), WithRoundTimeout(time.Second))
		)
		n.registerPool("P", 0, 999)
		return n, clock, n.peer(ids[0]).session.NewRequestRound("hint")
	}
	var respond = func(sut *RequestRound, responder PeerID, value uint32) {
		sut.HandleIncomingEvent(&ResponseEvent{
			RequestID: sut.RequestID(),
			Requester: "peer-a",
			Responder: responder,
			Value:     value,
		})
	}

	t.Run("should finish once every remote peer answered", func(t *testing.T) {
		// Arrange
		var n, _, sut = setup("peer-a", "peer-b", "peer-c")

		// Act
		var started = sut.Start(&HintRequest{PoolName: "P"})
		respond(sut, "peer-b", 10)
		var afterOne = sut.State()
		respond(sut, "peer-c", 20)

		// Assert
		assert.True(t, started)
		assert.Equal(t, 2, sut.WaitingFor())
		assert.Equal(t, RoundIssued, afterOne)
		assert.Equal(t, RoundFinished, sut.State())
		assert.False(t, sut.TimedOut())
		assert.Equal(t, []Response{{Value: 10, Responder: "peer-b"}, {Value: 20, Responder: "peer-c"}}, sut.Responses())
		assert.Len(t, n.sentOf(KindHintRequest), 1)
	})

	t.Run("should stamp the request with a fresh id and the local peer", func(t *testing.T) {
		// Arrange
		var (
			n, _, sut = setup("peer-a", "peer-b")
			req       = &HintRequest{PoolName: "P", RequestHeader: RequestHeader{RequestID: 99, Requester: "forged"}}
		)

		// Act
		sut.Start(req)

		// Assert
		assert.Equal(t, uint32(1), req.RequestID)
		assert.Equal(t, PeerID("peer-a"), req.Requester)
		var sent = n.sentOf(KindHintRequest)
		require.Len(t, sent, 1)
		assert.Equal(t, uint32(1), sent[0].(*HintRequest).RequestID)
	})

	t.Run("should drop duplicate responses", func(t *testing.T) {
		// Arrange
		var _, _, sut = setup("peer-a", "peer-b", "peer-c")
		sut.Start(&HintRequest{PoolName: "P"})

		// Act
		respond(sut, "peer-b", 10)
		respond(sut, "peer-b", 11)

		// Assert
		assert.Equal(t, RoundIssued, sut.State())
		assert.Len(t, sut.Responses(), 1)
	})

	t.Run("should ignore responses to other requests", func(t *testing.T) {
		// Arrange
		var _, _, sut = setup("peer-a", "peer-b")
		sut.Start(&HintRequest{PoolName: "P"})

		// Act
		sut.HandleIncomingEvent(&ResponseEvent{RequestID: sut.RequestID() + 1, Requester: "peer-a", Responder: "peer-b"})
		sut.HandleIncomingEvent(&ResponseEvent{RequestID: sut.RequestID(), Requester: "peer-c", Responder: "peer-b"})
		sut.HandleIncomingEvent(&HintRequest{RequestHeader: RequestHeader{RequestID: sut.RequestID(), Requester: "peer-b"}})

		// Assert
		assert.Equal(t, RoundIssued, sut.State())
		assert.Empty(t, sut.Responses())
	})

	t.Run("should drop late responses", func(t *testing.T) {
		// Arrange
		var _, _, sut = setup("peer-a", "peer-b")
		sut.Start(&HintRequest{PoolName: "P"})
		respond(sut, "peer-b", 10)

		// Act
		respond(sut, "peer-c", 20)

		// Assert
		assert.Equal(t, RoundFinished, sut.State())
		assert.Len(t, sut.Responses(), 1)
	})

	t.Run("should finish with partial responses after the timeout", func(t *testing.T) {
		// Arrange
		var _, clock, sut = setup("peer-a", "peer-b", "peer-c")
		sut.Start(&HintRequest{PoolName: "P"})
		respond(sut, "peer-b", 10)

		// Act
		clock.Advance(time.Second)
		var early = sut.CheckTimeout()
		clock.Advance(time.Millisecond)
		var fired = sut.CheckTimeout()

		// Assert
		assert.False(t, early)
		assert.True(t, fired)
		assert.True(t, sut.TimedOut())
		assert.Equal(t, RoundFinished, sut.State())
		assert.Equal(t, []Response{{Value: 10, Responder: "peer-b"}}, sut.Responses())
	})

	t.Run("should check the timeout before recording a response", func(t *testing.T) {
		// Arrange
		var _, clock, sut = setup("peer-a", "peer-b")
		sut.Start(&HintRequest{PoolName: "P"})
		clock.Advance(2 * time.Second)

		// Act
		respond(sut, "peer-b", 10)

		// Assert
		assert.True(t, sut.TimedOut())
		assert.Empty(t, sut.Responses())
	})

	t.Run("should refuse to start while issued", func(t *testing.T) {
		// Arrange
		var n, _, sut = setup("peer-a", "peer-b")
		sut.Start(&HintRequest{PoolName: "P"})
		var first = sut.RequestID()

		// Act
		var restarted = sut.Start(&HintRequest{PoolName: "P"})

		// Assert
		assert.False(t, restarted)
		assert.Equal(t, first, sut.RequestID())
		assert.Len(t, n.sentOf(KindHintRequest), 1)
	})

	t.Run("should start again once finished", func(t *testing.T) {
		// Arrange
		var _, _, sut = setup("peer-a", "peer-b")
		sut.Start(&HintRequest{PoolName: "P"})
		respond(sut, "peer-b", 10)

		// Act
		var restarted = sut.Start(&HintRequest{PoolName: "P"})

		// Assert
		assert.True(t, restarted)
		assert.Equal(t, uint32(2), sut.RequestID())
		assert.Equal(t, RoundIssued, sut.State())
		assert.Empty(t, sut.Responses())
	})

	t.Run("should finish immediately without remote peers", func(t *testing.T) {
		// Arrange
		var n, _, sut = setup("peer-a")

		// Act
		sut.Start(&HintRequest{PoolName: "P"})

		// Assert
		assert.Equal(t, RoundFinished, sut.State())
		assert.Equal(t, 0, sut.WaitingFor())
		assert.Empty(t, n.sent)
	})

	t.Run("should never time out a round that was not started", func(t *testing.T) {
		// Arrange
		var _, clock, sut = setup("peer-a", "peer-b")
		clock.Advance(time.Hour)

		// Act
		var fired = sut.CheckTimeout()

		// Assert
		assert.False(t, fired)
		assert.Equal(t, RoundNone, sut.State())
	})
}
