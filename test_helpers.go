package idrange

// simulateCrash stops the poll loop without closing the session or leaving
// the transport, so other peers keep counting this node (for testing).
func (n *Node) simulateCrash() {
	n.mu.Lock()
	var c = n.coordinator
	n.coordinator = nil
	n.mu.Unlock()

	if c != nil && c.cancel != nil {
		c.cancel()
		<-c.done
	}
}
