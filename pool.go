package idrange

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// ErrInvalidRange is returned when a pool range is empty or inverted.
var ErrInvalidRange = errors.New("pool range must satisfy minIdx <= maxIdx")

// Pool manages a contiguous, inclusive range of ids. A pool either grants
// individual ids or carves disjoint sub-pools out of its range, never both.
//
// Pool does no synchronisation. It is owned by a single goroutine.
type Pool struct {
	minIdx uint32
	maxIdx uint32

	// The free set is the ordered sequence [next, maxIdx] minus skipped,
	// followed by recycled. This matches a FIFO initialised with the whole
	// range without materialising it.
	next        uint64
	skipped     map[uint32]struct{}
	recycled    []uint32
	recycledSet map[uint32]struct{}

	children          []*Pool
	hasGrantedEntries bool
	destroyed         bool

	logger *slog.Logger
}

// NewPool creates a pool owning [minIdx, maxIdx].
// If the logger is nil, the pool will use a no-op logger.
func NewPool(minIdx, maxIdx uint32, logger *slog.Logger) (*Pool, error) {
	if maxIdx < minIdx {
		return nil, fmt.Errorf("%w: got [%d, %d]", ErrInvalidRange, minIdx, maxIdx)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return newPool(minIdx, maxIdx, logger), nil
}

func newPool(minIdx, maxIdx uint32, logger *slog.Logger) *Pool {
	return &Pool{
		minIdx:      minIdx,
		maxIdx:      maxIdx,
		next:        uint64(minIdx),
		skipped:     make(map[uint32]struct{}),
		recycledSet: make(map[uint32]struct{}),
		logger:      logger,
	}
}

// MinIdx returns the lowest id belonging to this pool.
func (p *Pool) MinIdx() uint32 { return p.minIdx }

// MaxIdx returns the highest id belonging to this pool.
func (p *Pool) MaxIdx() uint32 { return p.maxIdx }

// HasGrantedEntries reports whether an individual id was ever granted.
func (p *Pool) HasGrantedEntries() bool { return p.hasGrantedEntries }

// Children returns the current sub-pools in creation order.
func (p *Pool) Children() []*Pool {
	var children = make([]*Pool, len(p.children))
	copy(children, p.children)
	return children
}

// FreeCount returns the number of ids that AllocEntry could still grant.
func (p *Pool) FreeCount() uint64 {
	var fresh uint64
	if p.next <= uint64(p.maxIdx) {
		fresh = uint64(p.maxIdx) + 1 - p.next
	}
	return fresh - uint64(len(p.skipped)) + uint64(len(p.recycled))
}

// Range returns the pool bounds as a named Range.
func (p *Pool) Range(name string) Range {
	return Range{Name: name, MinIdx: p.minIdx, MaxIdx: p.maxIdx}
}

// AllocSubPool carves the lowest non-colliding block of size ids out of the pool.
// Returns nil when no such block exists or the pool already granted entries.
func (p *Pool) AllocSubPool(size uint32) *Pool {
	if !p.alive() {
		return nil
	}
	if p.hasGrantedEntries {
		p.logger.Error("cannot allocate sub-pool in pool which has granted entries",
			"min", p.minIdx, "max", p.maxIdx)
		return nil
	}
	if size == 0 {
		p.logger.Error("cannot allocate sub-pool of size 0", "min", p.minIdx, "max", p.maxIdx)
		return nil
	}

	// Restart the scan whenever the candidate is pushed past a colliding child.
	var start = uint64(p.minIdx)
	for i := 0; i < len(p.children); {
		var (
			child = p.children[i]
			end   = start + uint64(size) - 1
		)
		if collides(start, end, child) {
			start = uint64(child.maxIdx) + 1
			i = 0
			continue
		}
		i++
	}

	if start+uint64(size)-1 > uint64(p.maxIdx) {
		p.logger.Error("could not satisfy sub-pool request",
			"size", size, "min", p.minIdx, "max", p.maxIdx)
		return nil
	}
	return p.AllocSubPoolAt(uint32(start), size)
}

// AllocSubPoolAt reserves [start, start+size-1] as a new sub-pool.
// Returns nil when the block leaves the pool range, overlaps an existing
// child, or the pool already granted entries.
func (p *Pool) AllocSubPoolAt(start, size uint32) *Pool {
	if !p.alive() {
		return nil
	}
	if p.hasGrantedEntries {
		p.logger.Error("cannot allocate sub-pool in pool which has granted entries",
			"min", p.minIdx, "max", p.maxIdx)
		return nil
	}
	if size == 0 {
		p.logger.Error("cannot allocate sub-pool of size 0", "start", start)
		return nil
	}
	if start < p.minIdx {
		p.logger.Error("sub-pool start is below pool range",
			"start", start, "min", p.minIdx, "max", p.maxIdx)
		return nil
	}

	var end = uint64(start) + uint64(size) - 1
	if end > uint64(p.maxIdx) {
		p.logger.Error("sub-pool exceeds pool range",
			"start", start, "size", size, "max", p.maxIdx)
		return nil
	}

	for _, child := range p.children {
		if collides(uint64(start), end, child) {
			p.logger.Warn("sub-pool overlaps an existing sub-pool",
				"start", start, "end", end, "child_min", child.minIdx, "child_max", child.maxIdx)
			return nil
		}
	}

	var child = newPool(start, uint32(end), p.logger)
	p.children = append(p.children, child)
	return child
}

// overlapping returns the children intersecting [start, start+size-1].
func (p *Pool) overlapping(start, size uint32) []*Pool {
	if size == 0 {
		return nil
	}
	var (
		end    = uint64(start) + uint64(size) - 1
		result []*Pool
	)
	for _, child := range p.children {
		if collides(uint64(start), end, child) {
			result = append(result, child)
		}
	}
	return result
}

// collides reports whether [start, end] invades the child's start or starts inside it.
func collides(start, end uint64, child *Pool) bool {
	var (
		childMin = uint64(child.minIdx)
		childMax = uint64(child.maxIdx)
	)
	return (start < childMin && end >= childMin) || (start >= childMin && start <= childMax)
}

// AllocEntry grants the oldest free id.
func (p *Pool) AllocEntry() (uint32, bool) {
	if !p.alive() {
		return 0, false
	}
	if len(p.children) > 0 {
		p.logger.Error("cannot allocate id in pool which has sub-pools",
			"min", p.minIdx, "max", p.maxIdx)
		return 0, false
	}

	for p.next <= uint64(p.maxIdx) {
		var id = uint32(p.next)
		p.next++
		if _, taken := p.skipped[id]; taken {
			delete(p.skipped, id)
			continue
		}
		p.hasGrantedEntries = true
		return id, true
	}

	if len(p.recycled) > 0 {
		var id = p.recycled[0]
		p.recycled = p.recycled[1:]
		delete(p.recycledSet, id)
		p.hasGrantedEntries = true
		return id, true
	}

	p.logger.Error("no more free ids available", "min", p.minIdx, "max", p.maxIdx)
	return 0, false
}

// AllocEntryAt grants a specific id if it is free.
func (p *Pool) AllocEntryAt(id uint32) bool {
	if !p.alive() {
		return false
	}
	if len(p.children) > 0 {
		p.logger.Error("cannot allocate id in pool which has sub-pools",
			"min", p.minIdx, "max", p.maxIdx)
		return false
	}
	if id < p.minIdx || id > p.maxIdx {
		p.logger.Error("requested id is out of pool range",
			"id", id, "min", p.minIdx, "max", p.maxIdx)
		return false
	}

	if p.isFresh(id) {
		p.skipped[id] = struct{}{}
		p.hasGrantedEntries = true
		return true
	}

	if _, ok := p.recycledSet[id]; ok {
		for i, recycled := range p.recycled {
			if recycled == id {
				p.recycled = append(p.recycled[:i], p.recycled[i+1:]...)
				break
			}
		}
		delete(p.recycledSet, id)
		p.hasGrantedEntries = true
		return true
	}

	p.logger.Error("requested id is already in use", "id", id)
	return false
}

// FreeEntry returns an id to the free set. Freeing an id that is already
// free is logged and ignored.
func (p *Pool) FreeEntry(id uint32) {
	if len(p.children) > 0 {
		p.logger.Error("cannot free id in pool which has sub-pools", "id", id)
		return
	}
	if id < p.minIdx || id > p.maxIdx {
		p.logger.Error("freed id is out of pool range",
			"id", id, "min", p.minIdx, "max", p.maxIdx)
		return
	}
	if p.isFree(id) {
		p.logger.Warn("id was not allocated", "id", id)
		return
	}
	p.recycled = append(p.recycled, id)
	p.recycledSet[id] = struct{}{}
}

func (p *Pool) isFresh(id uint32) bool {
	if uint64(id) < p.next {
		return false
	}
	_, taken := p.skipped[id]
	return !taken
}

func (p *Pool) isFree(id uint32) bool {
	if p.isFresh(id) {
		return true
	}
	_, ok := p.recycledSet[id]
	return ok
}

// FreeSubPool removes and destroys a child, including all of its own children.
func (p *Pool) FreeSubPool(child *Pool) bool {
	if p.hasGrantedEntries {
		p.logger.Error("cannot free sub-pool of pool which has granted entries",
			"min", p.minIdx, "max", p.maxIdx)
		return false
	}
	if child == nil {
		p.logger.Error("cannot free nil sub-pool")
		return false
	}

	for i, c := range p.children {
		if c != child {
			continue
		}
		p.children = append(p.children[:i], p.children[i+1:]...)
		child.destroy()
		return true
	}

	p.logger.Error("sub-pool not found",
		"child_min", child.minIdx, "child_max", child.maxIdx)
	return false
}

// alive reports whether the pool is still attached to its parent.
func (p *Pool) alive() bool {
	if p.destroyed {
		p.logger.Error("pool was already freed", "min", p.minIdx, "max", p.maxIdx)
		return false
	}
	return true
}

// destroy releases all children recursively.
func (p *Pool) destroy() {
	for _, child := range p.children {
		child.destroy()
	}
	p.children = nil
	p.skipped = make(map[uint32]struct{})
	p.recycled = nil
	p.recycledSet = make(map[uint32]struct{})
	p.destroyed = true
}

// UnallocatedSubPoolIdx returns one past the highest child MaxIdx, or MinIdx
// when there are no children. It is a local, possibly stale hint.
func (p *Pool) UnallocatedSubPoolIdx() uint32 {
	if p.hasGrantedEntries {
		p.logger.Error("sub-pool hint requested on pool which has granted entries",
			"min", p.minIdx, "max", p.maxIdx)
	}

	var result = uint64(p.minIdx)
	for _, child := range p.children {
		if result <= uint64(child.maxIdx) {
			result = uint64(child.maxIdx) + 1
		}
	}
	if result > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(result)
}
