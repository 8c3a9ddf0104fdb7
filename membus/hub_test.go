package membus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idrange "go-idrange"
)

func TestHub(t *testing.T) {
	var (
		newPeers = func(t *testing.T, ids ...idrange.PeerID) []*Peer {
			var (
				hub   = NewHub(nil)
				peers []*Peer
			)
			for _, id := range ids {
				var p, err = hub.Join(id)
				require.NoError(t, err)
				t.Cleanup(p.Leave)
				peers = append(peers, p)
			}
			return peers
		}
		receive = func(t *testing.T, p *Peer) idrange.Event {
			select {
			case ev := <-p.Inbox():
				return ev
			case <-time.After(time.Second):
				require.FailNow(t, "no event received")
				return nil
			}
		}
	)

	t.Run("should count remote participants", func(t *testing.T) {
		// Arrange
		var peers = newPeers(t, "peer-a", "peer-b", "peer-c")

		// Act
		var remote = peers[0].RemoteParticipants()

		// Assert
		assert.Equal(t, 2, remote)
		assert.Equal(t, []idrange.PeerID{"peer-a", "peer-b", "peer-c"}, peers[0].hub.Peers())
	})

	t.Run("should reject joining twice", func(t *testing.T) {
		// Arrange
		var peers = newPeers(t, "peer-a")

		// Act
		var _, err = peers[0].hub.Join("peer-a")

		// Assert
		assert.ErrorIs(t, err, ErrPeerExists)
	})

	t.Run("should deliver to every other peer", func(t *testing.T) {
		// Arrange
		var (
			peers = newPeers(t, "peer-a", "peer-b", "peer-c")
			sent  = &idrange.ResponseEvent{
				Route:     3,
				RequestID: 9,
				Requester: "peer-b",
				Responder: "peer-a",
				Value:     idrange.ResponseOK,
			}
		)

		// Act
		err := peers[0].Broadcast(sent)
		require.NoError(t, err)

		// Assert
		assert.Equal(t, sent, receive(t, peers[1]))
		assert.Equal(t, sent, receive(t, peers[2]))
		assert.Never(t, func() bool {
			return len(peers[0].Inbox()) > 0
		}, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("should preserve order of one sender", func(t *testing.T) {
		// Arrange
		var peers = newPeers(t, "peer-a", "peer-b")

		// Act
		for i := range 100 {
			err := peers[0].Broadcast(&idrange.FinalizeEvent{From: "peer-a", SubPoolName: fmt.Sprintf("sub_%d", i)})
			require.NoError(t, err)
		}

		// Assert
		for i := range 100 {
			var ev = receive(t, peers[1])
			assert.Equal(t, fmt.Sprintf("sub_%d", i), ev.(*idrange.FinalizeEvent).SubPoolName)
		}
	})

	t.Run("should close inbox and refuse broadcasts after leaving", func(t *testing.T) {
		// Arrange
		var peers = newPeers(t, "peer-a", "peer-b")

		// Act
		peers[1].Leave()
		err := peers[1].Broadcast(&idrange.FinalizeEvent{From: "peer-b"})

		// Assert
		assert.ErrorIs(t, err, ErrPeerLeft)
		assert.Equal(t, 0, peers[0].RemoteParticipants())
		assert.Eventually(t, func() bool {
			select {
			case _, ok := <-peers[1].Inbox():
				return !ok
			default:
				return false
			}
		}, time.Second, 10*time.Millisecond)
	})
}
