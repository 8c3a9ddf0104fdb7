package idrange

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	// ErrPoolExists is returned when a pool name is registered twice.
	ErrPoolExists = errors.New("pool already registered")

	// ErrUnknownPool is returned when no pool is registered under a name.
	ErrUnknownPool = errors.New("no pool registered under this name")
)

// registryEntry is one named pool known to this peer.
type registryEntry struct {
	name      string
	pool      *Pool
	parent    *Pool
	owner     PeerID
	tentative bool
}

// Registry maps names to the local pools of one session. It is created with
// the session and destroyed with it.
type Registry struct {
	entries map[string]*registryEntry
	byPool  map[*Pool]*registryEntry
	logger  *slog.Logger
}

func newRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		byPool:  make(map[*Pool]*registryEntry),
		logger:  logger,
	}
}

// RegisterRoot creates a root pool covering [minIdx, maxIdx].
func (r *Registry) RegisterRoot(name string, minIdx, maxIdx uint32) (*Pool, error) {
	if _, exists := r.entries[name]; exists {
		return nil, fmt.Errorf("failed to register pool %q: %w", name, ErrPoolExists)
	}

	var pool, err = NewPool(minIdx, maxIdx, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to register pool %q: %w", name, err)
	}

	r.add(&registryEntry{name: name, pool: pool})
	r.logger.Info("registered root pool", "pool", name, "min", minIdx, "max", maxIdx)
	return pool, nil
}

// register records a sub-pool carved out of parent.
func (r *Registry) register(name string, pool, parent *Pool, owner PeerID, tentative bool) bool {
	if _, exists := r.entries[name]; exists {
		r.logger.Error("pool name already registered", "pool", name)
		return false
	}
	r.add(&registryEntry{
		name:      name,
		pool:      pool,
		parent:    parent,
		owner:     owner,
		tentative: tentative,
	})
	return true
}

func (r *Registry) add(e *registryEntry) {
	r.entries[e.name] = e
	r.byPool[e.pool] = e
}

// Lookup returns the pool registered under name, or nil.
func (r *Registry) Lookup(name string) *Pool {
	var e, ok = r.entries[name]
	if !ok {
		return nil
	}
	// Freed directly through Pool.FreeSubPool.
	if e.pool.destroyed {
		r.sweep()
		return nil
	}
	return e.pool
}

// NameOf returns the name a pool is registered under.
func (r *Registry) NameOf(pool *Pool) (string, bool) {
	if e, ok := r.byPool[pool]; ok {
		return e.name, true
	}
	return "", false
}

// IsTentative reports whether name refers to an unconfirmed reservation.
func (r *Registry) IsTentative(name string) bool {
	if e, ok := r.entries[name]; ok {
		return e.tentative
	}
	return false
}

func (r *Registry) entryOf(pool *Pool) (*registryEntry, bool) {
	e, ok := r.byPool[pool]
	return e, ok
}

// confirm turns a tentative reservation into a permanent one.
func (r *Registry) confirm(name string) bool {
	var e, ok = r.entries[name]
	if !ok {
		return false
	}
	e.tentative = false
	return true
}

// release frees the named pool from its parent and forgets it together with
// every registered pool that was nested inside it.
func (r *Registry) release(name string) bool {
	var e, ok = r.entries[name]
	if !ok {
		return false
	}

	if e.parent == nil {
		e.pool.destroy()
	} else if !e.parent.FreeSubPool(e.pool) {
		return false
	}

	r.sweep()
	return true
}

// sweep drops entries whose pools were destroyed.
func (r *Registry) sweep() {
	for name, e := range r.entries {
		if e.pool.destroyed {
			delete(r.entries, name)
			delete(r.byPool, e.pool)
		}
	}
}

// Names returns all registered names in lexical order.
func (r *Registry) Names() []string {
	var names = make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the root pools and their sub-pool trees.
func (r *Registry) Snapshot() []PoolInfo {
	var roots []PoolInfo
	for _, name := range r.Names() {
		var e = r.entries[name]
		if e.parent != nil {
			continue
		}
		roots = append(roots, r.describe(e.pool))
	}
	return roots
}

func (r *Registry) describe(pool *Pool) PoolInfo {
	var info = PoolInfo{
		MinIdx:    pool.minIdx,
		MaxIdx:    pool.maxIdx,
		FreeCount: pool.FreeCount(),
	}
	if e, ok := r.byPool[pool]; ok {
		info.Name = e.name
		info.Owner = e.owner
		info.Tentative = e.tentative
	}
	if len(pool.children) > 0 {
		info.FreeCount = 0
	}
	for _, child := range pool.children {
		info.Children = append(info.Children, r.describe(child))
	}
	return info
}

// close destroys every pool of the session.
func (r *Registry) close() {
	for _, e := range r.entries {
		if e.parent == nil {
			e.pool.destroy()
		}
	}
	r.entries = make(map[string]*registryEntry)
	r.byPool = make(map[*Pool]*registryEntry)
}
