package idrange

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubPoolName(t *testing.T) {
	var (
		poolName  = "objects"
		requester = PeerID("peer-1")
		instance  = "3f1c"
	)

	t.Run("deterministic naming", func(t *testing.T) {
		name1 := subPoolName(poolName, requester, instance, 1, 100, 10)
		name2 := subPoolName(poolName, requester, instance, 1, 100, 10)
		assert.Equal(t, name1, name2, "same input should produce same name")
	})

	t.Run("different attempts produce different names", func(t *testing.T) {
		name1 := subPoolName(poolName, requester, instance, 1, 100, 10)
		name2 := subPoolName(poolName, requester, instance, 2, 100, 10)
		assert.NotEqual(t, name1, name2, "different attempts should name differently")
	})

	t.Run("different requesters produce different names", func(t *testing.T) {
		name1 := subPoolName(poolName, "peer-1", instance, 1, 100, 10)
		name2 := subPoolName(poolName, "peer-2", instance, 1, 100, 10)
		assert.NotEqual(t, name1, name2, "different requesters should name differently")
	})

	t.Run("name carries pool, start and size", func(t *testing.T) {
		name := subPoolName(poolName, requester, instance, 1, 100, 10)
		assert.True(t, strings.HasPrefix(name, "objects_sub_"))
		assert.True(t, strings.HasSuffix(name, "_100_10"))
	})
}
