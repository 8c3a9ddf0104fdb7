package pgbus_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idrange "go-idrange"
	"go-idrange/database"
	"go-idrange/pgbus"
)

func TestBus(t *testing.T) {
	var (
		newSessionID = func() string {
			return fmt.Sprintf("bus_%s", uuid.New().String()[0:8])
		}
		newBus = func(t *testing.T, db *sql.DB, connURL, sessionID string, peer idrange.PeerID) *pgbus.Bus {
			var bus = pgbus.New(db, connURL, sessionID, peer,
				pgbus.WithLeaseTTL(3*time.Second),
				pgbus.WithRefreshInterval(50*time.Millisecond),
			)
			require.NoError(t, bus.Start(context.Background()))
			t.Cleanup(func() {
				_ = bus.Stop(context.Background())
			})
			return bus
		}
		receive = func(t *testing.T, bus *pgbus.Bus) idrange.Event {
			select {
			case ev := <-bus.Inbox():
				return ev
			case <-time.After(5 * time.Second):
				require.FailNow(t, "no event received")
				return nil
			}
		}
	)

	t.Run("should count remote participants", func(t *testing.T) {
		// Arrange
		var (
			db, connURL = database.SetupTestSchema(t)
			sessionID   = newSessionID()
		)

		// Act
		var (
			busA = newBus(t, db, connURL, sessionID, "peer-a")
			busB = newBus(t, db, connURL, sessionID, "peer-b")
		)

		// Assert
		assert.Eventually(t, func() bool {
			return busA.RemoteParticipants() == 1 && busB.RemoteParticipants() == 1
		}, 5*time.Second, 50*time.Millisecond)

		var participants, err = busA.Participants(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []idrange.PeerID{"peer-a", "peer-b"}, participants)
	})

	t.Run("should deliver broadcast to other peers only", func(t *testing.T) {
		// Arrange
		var (
			db, connURL = database.SetupTestSchema(t)
			sessionID   = newSessionID()
			busA        = newBus(t, db, connURL, sessionID, "peer-a")
			busB        = newBus(t, db, connURL, sessionID, "peer-b")
			sent        = &idrange.FinalizeEvent{
				Route:       7,
				From:        "peer-a",
				PoolName:    "objects",
				SubPoolName: "objects_sub_1",
				Keep:        true,
			}
		)

		// Act
		err := busA.Broadcast(sent)
		require.NoError(t, err)

		// Assert
		assert.Equal(t, sent, receive(t, busB))
		assert.Never(t, func() bool {
			return len(busA.Inbox()) > 0
		}, 300*time.Millisecond, 50*time.Millisecond, "sender should not receive its own event")
	})

	t.Run("should preserve order of one sender", func(t *testing.T) {
		// Arrange
		var (
			db, connURL = database.SetupTestSchema(t)
			sessionID   = newSessionID()
			busA        = newBus(t, db, connURL, sessionID, "peer-a")
			busB        = newBus(t, db, connURL, sessionID, "peer-b")
		)

		// Act
		for i := range 20 {
			err := busA.Broadcast(&idrange.FinalizeEvent{
				From:        "peer-a",
				PoolName:    "objects",
				SubPoolName: fmt.Sprintf("sub_%d", i),
			})
			require.NoError(t, err)
		}

		// Assert
		for i := range 20 {
			var ev = receive(t, busB)
			assert.Equal(t, fmt.Sprintf("sub_%d", i), ev.(*idrange.FinalizeEvent).SubPoolName)
		}
	})

	t.Run("should reject events larger than a notification", func(t *testing.T) {
		// Arrange
		var (
			db, connURL = database.SetupTestSchema(t)
			busA        = newBus(t, db, connURL, newSessionID(), "peer-a")
		)

		// Act
		err := busA.Broadcast(&idrange.HintRequest{
			RequestHeader: idrange.RequestHeader{Requester: "peer-a"},
			PoolName:      strings.Repeat("p", 7000),
		})

		// Assert
		assert.ErrorIs(t, err, pgbus.ErrPayloadTooLarge)
	})

	t.Run("should forget peers that leave", func(t *testing.T) {
		// Arrange
		var (
			db, connURL = database.SetupTestSchema(t)
			sessionID   = newSessionID()
			busA        = newBus(t, db, connURL, sessionID, "peer-a")
			busB        = newBus(t, db, connURL, sessionID, "peer-b")
		)
		require.Eventually(t, func() bool {
			return busA.RemoteParticipants() == 1
		}, 5*time.Second, 50*time.Millisecond)

		// Act
		err := busB.Stop(context.Background())
		require.NoError(t, err)

		// Assert
		assert.Eventually(t, func() bool {
			return busA.RemoteParticipants() == 0
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("should reject invalid session ids", func(t *testing.T) {
		// Arrange
		var (
			db, connURL = database.SetupTestSchema(t)
			bus         = pgbus.New(db, connURL, "Not-Valid", "peer-a")
		)

		// Act
		err := bus.Start(context.Background())

		// Assert
		assert.ErrorIs(t, err, database.ErrInvalidSessionID)
	})
}

func TestNodesOverBus(t *testing.T) {
	t.Run("should allocate disjoint ranges and record them", func(t *testing.T) {
		// Arrange
		var (
			ctx         = context.Background()
			db, connURL = database.SetupTestSchema(t)
			sessionID   = fmt.Sprintf("nodes_%s", uuid.New().String()[0:8])
			store       = pgbus.NewStore(db, sessionID)
			newNode     = func(peer idrange.PeerID) (*idrange.Node, *pgbus.Bus) {
				var bus = pgbus.New(db, connURL, sessionID, peer, pgbus.WithRefreshInterval(50*time.Millisecond))
				require.NoError(t, bus.Start(ctx))

				var node = idrange.NewNode(bus,
					idrange.WithTickInterval(20*time.Millisecond),
					idrange.WithAllocationStore(store),
				)
				require.NoError(t, node.RegisterPool(ctx, "objects", 0, 9999))
				require.NoError(t, node.Start(ctx))
				t.Cleanup(func() {
					_ = node.Stop(ctx)
					_ = bus.Stop(ctx)
				})
				return node, bus
			}
			nodeA, busA = newNode("peer-a")
			nodeB, busB = newNode("peer-b")
		)
		require.Eventually(t, func() bool {
			return busA.RemoteParticipants() == 1 && busB.RemoteParticipants() == 1
		}, 5*time.Second, 50*time.Millisecond)

		// Act
		var rangeA, errA = nodeA.Allocate(ctx, "objects", 20)
		require.NoError(t, errA)
		var rangeB, errB = nodeB.Allocate(ctx, "objects", 20)
		require.NoError(t, errB)

		// Assert
		assert.Equal(t, uint32(0), rangeA.MinIdx)
		assert.Equal(t, uint32(19), rangeA.MaxIdx)
		assert.Equal(t, uint32(20), rangeB.MinIdx)
		assert.Equal(t, uint32(39), rangeB.MaxIdx)

		assert.Eventually(t, func() bool {
			var allocations, err = store.ListAllocations(ctx, "objects")
			return err == nil && len(allocations) == 2
		}, 5*time.Second, 50*time.Millisecond)
	})
}
