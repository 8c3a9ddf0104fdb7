package idrange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// recordBuffer bounds committed allocations waiting for the store.
const recordBuffer = 64

// coordinator owns the session of a Node: it runs the poll loop that is the
// only goroutine touching pools, rounds and allocators, and the background
// workers that do I/O on its behalf.
type coordinator struct {
	node     *Node
	options  options
	commands chan func(c *coordinator)
	inflight map[*RangeAllocator]chan<- allocResult
	records  chan Allocation
	route    RouteID
	cancel   context.CancelFunc
	done     chan struct{}
	workers  sync.WaitGroup
}

// newCoordinator creates a new coordinator.
func newCoordinator(node *Node, opts options) *coordinator {
	var c = &coordinator{
		node:     node,
		options:  opts,
		commands: make(chan func(c *coordinator)),
		inflight: make(map[*RangeAllocator]chan<- allocResult),
		done:     make(chan struct{}),
	}
	if opts.store != nil {
		c.records = make(chan Allocation, recordBuffer)
	}
	return c
}

// start launches the poll loop and the background workers.
//
// Context handling: workers run with their own context derived from
// context.Background() so they outlive the caller of Start. They are stopped
// via the internal cancel function when stop() is called.
func (c *coordinator) start() {
	var workerCtx context.Context
	workerCtx, c.cancel = context.WithCancel(context.Background())

	go c.pollLoop(workerCtx)

	if c.records != nil {
		c.workers.Add(1)
		go c.recordAllocationsWorker(workerCtx)
	}
}

// stop cancels the workers and waits for the poll loop to exit.
func (c *coordinator) stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for poll loop: %w", ctx.Err())
	}

	c.workers.Wait()
	return nil
}

// pollLoop executes remote events, caller commands and timeout checks one
// at a time.
func (c *coordinator) pollLoop(ctx context.Context) {
	defer close(c.done)

	var (
		ticker = time.NewTicker(c.options.tickInterval)
		inbox  = c.node.transport.Inbox()
	)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			cmd(c)
		case ev, ok := <-inbox:
			if !ok {
				c.options.logger.Warn("transport inbox closed, no more remote events")
				inbox = nil
				continue
			}
			c.handleEvent(ev)
		case <-ticker.C:
			c.checkTimeouts()
		}
	}
}

// handleEvent executes ev and feeds it to every allocator still negotiating.
func (c *coordinator) handleEvent(ev Event) {
	c.node.session.Execute(ev)
	for a := range c.inflight {
		a.HandleIncomingEvent(ev)
	}
	c.collect()
	c.node.refreshSnapshot()
}

// checkTimeouts lets rounds that waited too long proceed.
func (c *coordinator) checkTimeouts() {
	if len(c.inflight) == 0 {
		return
	}
	for a := range c.inflight {
		a.CheckTimeout()
	}
	c.collect()
	c.node.refreshSnapshot()
}

// runAllocator starts a negotiation whose result is delivered on results.
func (c *coordinator) runAllocator(poolName string, size uint32, results chan<- allocResult) {
	c.route++

	var a = c.node.session.NewAllocator()
	c.inflight[a] = results
	a.RequestAllocation(poolName, size, c.route)

	c.collect()
	c.node.refreshSnapshot()
}

// collect hands finished negotiations to their callers.
func (c *coordinator) collect() {
	for a, results := range c.inflight {
		if a.State() != StateFinished {
			continue
		}
		delete(c.inflight, a)

		var rng, _ = a.Range()
		select {
		case results <- allocResult{rng: rng, outcome: a.Outcome()}:
		default:
		}

		if a.Outcome() == OutcomeCommitted {
			c.record(Allocation{
				Pool:        a.poolName,
				Range:       rng,
				Owner:       c.node.PeerID(),
				CommittedAt: c.options.now(),
			})
		}
	}
}

// record queues a committed allocation for the store without blocking the loop.
func (c *coordinator) record(alloc Allocation) {
	if c.records == nil {
		return
	}
	select {
	case c.records <- alloc:
	default:
		c.options.logger.Warn("allocation store is lagging, dropping record",
			"pool", alloc.Pool, "range", alloc.Range.String())
	}
}

// recordAllocationsWorker persists committed allocations.
func (c *coordinator) recordAllocationsWorker(ctx context.Context) {
	defer c.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case alloc := <-c.records:
			if err := c.options.store.RecordAllocation(ctx, alloc); err != nil {
				c.options.logger.Error("failed to record allocation",
					"pool", alloc.Pool,
					"range", alloc.Range.String(),
					"error", err)
			}
		}
	}
}
