package idrange

import (
	"crypto/md5"
	"fmt"
)

// subPoolName derives the name every peer uses for one tentative reservation.
// The same allocator attempt always maps to the same name, while distinct
// allocators or attempts of the same requester never share one.
func subPoolName(poolName string, requester PeerID, instance string, attempt uint32, start, size uint32) string {
	var hash = md5.Sum([]byte(fmt.Sprintf("%s:%s:%d", requester, instance, attempt)))
	return fmt.Sprintf("%s_sub_%x_%d_%d", poolName, hash[:6], start, size)
}
