package idrange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNodeNotStarted is returned when a Node is used before Start or after Stop.
	ErrNodeNotStarted = errors.New("node not started")

	// ErrAllocationFailed is returned when a negotiation ended without a range.
	ErrAllocationFailed = errors.New("range allocation failed")

	// ErrNotOwner is returned when ids are taken from a pool another peer owns.
	ErrNotOwner = errors.New("pool is not owned by this peer")

	// ErrNoFreeID is returned when a pool has no id left to grant.
	ErrNoFreeID = errors.New("no free id left in pool")
)

// Allocation is a range this peer committed.
type Allocation struct {
	Pool        string
	Range       Range
	Owner       PeerID
	CommittedAt time.Time
}

// AllocationStore persists committed allocations.
type AllocationStore interface {
	RecordAllocation(ctx context.Context, a Allocation) error
}

// Node runs a Session on its own goroutine and exposes it to concurrent callers.
type Node struct {
	mu          sync.RWMutex
	transport   InboundTransport
	session     *Session
	options     options
	snapshot    []PoolInfo   // Refreshed by the poll loop after every change
	coordinator *coordinator // Runs the poll loop and background workers
}

// NewNode creates a node for the peer behind transport.
func NewNode(transport InboundTransport, opts ...Option) *Node {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Node{
		transport: transport,
		session:   NewSession(transport, opts...),
		options:   options,
	}
}

// PeerID returns the id of this node.
func (n *Node) PeerID() PeerID {
	return n.transport.LocalPeer()
}

// Start launches the poll loop. Root pools may be registered before or after.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.coordinator != nil {
		return errors.New("node already started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	n.coordinator = newCoordinator(n, n.options)
	n.coordinator.start()

	n.options.logger.Info("node started", "peer_id", n.PeerID())
	return nil
}

// Stop shuts the poll loop down and destroys every pool of the session.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	var c = n.coordinator
	n.coordinator = nil
	n.mu.Unlock()

	if c == nil {
		return ErrNodeNotStarted
	}
	if err := c.stop(ctx); err != nil {
		return fmt.Errorf("failed to stop node: %w", err)
	}

	n.session.Close()
	n.refreshSnapshot()
	n.options.logger.Info("node stopped", "peer_id", n.PeerID())
	return nil
}

// RegisterPool creates a root pool. Every peer must register the same root
// pools under the same names.
func (n *Node) RegisterPool(ctx context.Context, name string, minIdx, maxIdx uint32) error {
	n.mu.Lock()
	if n.coordinator == nil {
		defer n.mu.Unlock()
		var _, err = n.session.RegisterPool(name, minIdx, maxIdx)
		n.snapshot = n.session.registry.Snapshot()
		return err
	}
	n.mu.Unlock()

	var err error
	if doErr := n.do(ctx, func(*coordinator) {
		_, err = n.session.RegisterPool(name, minIdx, maxIdx)
		n.refreshSnapshot()
	}); doErr != nil {
		return doErr
	}
	return err
}

// Allocate negotiates a range of size ids from the named pool with all peers.
// A denied negotiation is re-issued when WithAllocateRetries allows it.
func (n *Node) Allocate(ctx context.Context, poolName string, size uint32) (Range, error) {
	var eb = backoff.NewExponentialBackOff()
	eb.InitialInterval = n.options.retryInterval
	eb.MaxElapsedTime = 0

	var (
		attempt = 0
		policy  = backoff.WithContext(backoff.WithMaxRetries(eb, n.options.allocateRetries), ctx)
	)
	return backoff.RetryWithData(func() (Range, error) {
		attempt++
		var r, err = n.allocateOnce(ctx, poolName, size)
		if err != nil {
			n.options.logger.Warn("allocation attempt failed",
				"pool", poolName,
				"size", size,
				"attempt", attempt,
				"error", err)
		}
		return r, err
	}, policy)
}

type allocResult struct {
	rng     Range
	outcome Outcome
}

func (n *Node) allocateOnce(ctx context.Context, poolName string, size uint32) (Range, error) {
	var results = make(chan allocResult, 1)
	var err = n.do(ctx, func(c *coordinator) {
		c.runAllocator(poolName, size, results)
	})
	if err != nil {
		return Range{}, backoff.Permanent(err)
	}

	var done = n.done()
	select {
	case res := <-results:
		switch res.outcome {
		case OutcomeCommitted:
			return res.rng, nil
		case OutcomeUnknownPool:
			return Range{}, backoff.Permanent(fmt.Errorf("failed to allocate from pool %q: %w", poolName, ErrUnknownPool))
		case OutcomeInvalidSize:
			return Range{}, backoff.Permanent(fmt.Errorf("%w: size must be positive", ErrAllocationFailed))
		default:
			return Range{}, fmt.Errorf("%w: %s", ErrAllocationFailed, res.outcome)
		}
	case <-done:
		return Range{}, backoff.Permanent(ErrNodeNotStarted)
	case <-ctx.Done():
		return Range{}, backoff.Permanent(ctx.Err())
	}
}

// AllocEntry grants one id from a pool this peer owns.
func (n *Node) AllocEntry(ctx context.Context, poolName string) (uint32, error) {
	var (
		id     uint32
		result error
	)
	var err = n.do(ctx, func(*coordinator) {
		var pool *Pool
		if pool, result = n.ownedPool(poolName); result != nil {
			return
		}
		var ok bool
		if id, ok = pool.AllocEntry(); !ok {
			result = fmt.Errorf("failed to allocate id from pool %q: %w", poolName, ErrNoFreeID)
			return
		}
		n.refreshSnapshot()
	})
	if err != nil {
		return 0, err
	}
	return id, result
}

// FreeEntry returns an id to a pool this peer owns.
func (n *Node) FreeEntry(ctx context.Context, poolName string, id uint32) error {
	var result error
	var err = n.do(ctx, func(*coordinator) {
		var pool *Pool
		if pool, result = n.ownedPool(poolName); result != nil {
			return
		}
		pool.FreeEntry(id)
		n.refreshSnapshot()
	})
	if err != nil {
		return err
	}
	return result
}

// ownedPool must run on the poll loop.
func (n *Node) ownedPool(poolName string) (*Pool, error) {
	var pool = n.session.registry.Lookup(poolName)
	if pool == nil {
		return nil, fmt.Errorf("failed to look up pool %q: %w", poolName, ErrUnknownPool)
	}
	var entry, _ = n.session.registry.entryOf(pool)
	if entry.owner != n.PeerID() || entry.tentative {
		return nil, fmt.Errorf("failed to use pool %q: %w", poolName, ErrNotOwner)
	}
	return pool, nil
}

// Pools returns the last snapshot of the registered pool trees.
func (n *Node) Pools() []PoolInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.snapshot
}

// do runs fn on the poll loop and waits for it.
func (n *Node) do(ctx context.Context, fn func(c *coordinator)) error {
	n.mu.RLock()
	var c = n.coordinator
	n.mu.RUnlock()
	if c == nil {
		return ErrNodeNotStarted
	}

	var finished = make(chan struct{})
	select {
	case c.commands <- func(c *coordinator) { fn(c); close(finished) }:
	case <-c.done:
		return ErrNodeNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrNodeNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) done() <-chan struct{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.coordinator == nil {
		var closed = make(chan struct{})
		close(closed)
		return closed
	}
	return n.coordinator.done
}

// refreshSnapshot caches the registry tree for readers outside the loop.
func (n *Node) refreshSnapshot() {
	var snapshot = n.session.registry.Snapshot()
	n.mu.Lock()
	n.snapshot = snapshot
	n.mu.Unlock()
}

// String returns a visual representation of the pools known to this node.
func (n *Node) String() string {
	var (
		pools = n.Pools()
		self  = n.PeerID()
		b     strings.Builder
	)

	b.WriteString(fmt.Sprintf("Node: %s\n", self))
	b.WriteString(fmt.Sprintf("Peers: %d | Root pools: %d\n", n.transport.RemoteParticipants()+1, len(pools)))

	if len(pools) == 0 {
		b.WriteString("\n[No Pools]\n")
		return b.String()
	}

	b.WriteString("\nPools:\n")
	for _, pool := range pools {
		writePool(&b, pool, self, 0)
	}
	return b.String()
}

func writePool(b *strings.Builder, pool PoolInfo, self PeerID, depth int) {
	var marker = " "
	switch {
	case pool.Tentative:
		marker = "?"
	case pool.Owner == self:
		marker = "●"
	}

	var owner = string(pool.Owner)
	if owner == "" {
		owner = "-"
	}

	b.WriteString(fmt.Sprintf("%s%s [%d..%d]  %-30s  owner:%s  free:%d\n",
		strings.Repeat("  ", depth), marker, pool.MinIdx, pool.MaxIdx, pool.Name, owner, pool.FreeCount))
	for _, child := range pool.Children {
		writePool(b, child, self, depth+1)
	}
}
