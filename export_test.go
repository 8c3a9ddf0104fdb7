package idrange

// SimulateCrash stops a node without leaving the session.
func (n *Node) SimulateCrash() { n.simulateCrash() }
