package idrange

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	var newRegistryWithRoot = func(t *testing.T) (*Registry, *Pool) {
		var r = newRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
		var root, err = r.RegisterRoot("P", 0, 99)
		require.NoError(t, err)
		return r, root
	}

	t.Run("should reject a duplicate root", func(t *testing.T) {
		// Arrange
		var sut, _ = newRegistryWithRoot(t)

		// Act
		var _, err = sut.RegisterRoot("P", 0, 10)

		// Assert
		assert.ErrorIs(t, err, ErrPoolExists)
	})

	t.Run("should reject an inverted root", func(t *testing.T) {
		// Arrange
		var sut, _ = newRegistryWithRoot(t)

		// Act
		var _, err = sut.RegisterRoot("Q", 10, 0)

		// Assert
		assert.ErrorIs(t, err, ErrInvalidRange)
		assert.Nil(t, sut.Lookup("Q"))
	})

	t.Run("should look up sub-pools by name", func(t *testing.T) {
		// Arrange
		var sut, root = newRegistryWithRoot(t)
		var child = root.AllocSubPoolAt(10, 10)

		// Act
		var registered = sut.register("child", child, root, "peer-a", true)

		// Assert
		assert.True(t, registered)
		assert.Same(t, child, sut.Lookup("child"))
		assert.True(t, sut.IsTentative("child"))
		var name, ok = sut.NameOf(child)
		assert.True(t, ok)
		assert.Equal(t, "child", name)
	})

	t.Run("should refuse to register a name twice", func(t *testing.T) {
		// Arrange
		var sut, root = newRegistryWithRoot(t)
		require.True(t, sut.register("child", root.AllocSubPoolAt(0, 10), root, "peer-a", false))

		// Act
		var registered = sut.register("child", root.AllocSubPoolAt(50, 10), root, "peer-a", false)

		// Assert
		assert.False(t, registered)
	})

	t.Run("should confirm a tentative reservation", func(t *testing.T) {
		// Arrange
		var sut, root = newRegistryWithRoot(t)
		sut.register("child", root.AllocSubPoolAt(0, 10), root, "peer-a", true)

		// Act
		var confirmed = sut.confirm("child")

		// Assert
		assert.True(t, confirmed)
		assert.False(t, sut.IsTentative("child"))
		assert.False(t, sut.confirm("missing"))
	})

	t.Run("should forget nested pools on release", func(t *testing.T) {
		// Arrange
		var sut, root = newRegistryWithRoot(t)
		var child = root.AllocSubPoolAt(0, 50)
		sut.register("child", child, root, "peer-a", false)
		sut.register("grandchild", child.AllocSubPoolAt(0, 10), child, "peer-a", false)

		// Act
		var released = sut.release("child")

		// Assert
		assert.True(t, released)
		assert.Nil(t, sut.Lookup("child"))
		assert.Nil(t, sut.Lookup("grandchild"))
		assert.Equal(t, []string{"P"}, sut.Names())
		assert.Empty(t, root.Children())
	})

	t.Run("should describe the pool tree", func(t *testing.T) {
		// Arrange
		var sut, root = newRegistryWithRoot(t)
		sut.register("mine", root.AllocSubPoolAt(0, 10), root, "peer-a", false)
		sut.register("theirs", root.AllocSubPoolAt(10, 5), root, "peer-b", true)

		// Act
		var snapshot = sut.Snapshot()

		// Assert
		require.Len(t, snapshot, 1)
		assert.Equal(t, "P", snapshot[0].Name)
		assert.Equal(t, uint64(0), snapshot[0].FreeCount)
		require.Len(t, snapshot[0].Children, 2)
		assert.Equal(t, PoolInfo{Name: "mine", MinIdx: 0, MaxIdx: 9, Owner: "peer-a", FreeCount: 10}, snapshot[0].Children[0])
		assert.Equal(t, PoolInfo{Name: "theirs", MinIdx: 10, MaxIdx: 14, Owner: "peer-b", Tentative: true, FreeCount: 5}, snapshot[0].Children[1])
	})

	t.Run("should drop everything on close", func(t *testing.T) {
		// Arrange
		var sut, root = newRegistryWithRoot(t)

		// Act
		sut.close()

		// Assert
		assert.Empty(t, sut.Names())
		assert.Nil(t, sut.Lookup("P"))
		assert.Nil(t, root.AllocSubPool(1))
	})
}
