package pgbus

import (
	"context"
	"fmt"

	idrange "go-idrange"
	"go-idrange/database"
)

// Store records committed allocations in the allocations table of a session.
// The table is created by Bus.Start or database.Migrate.
type Store struct {
	sessionID string
	queries   *database.Queries
}

// NewStore creates a store for the given session.
func NewStore(db database.DBTX, sessionID string) *Store {
	return &Store{
		sessionID: sessionID,
		queries:   database.NewQueries(db, sessionID),
	}
}

// RecordAllocation implements idrange.AllocationStore.
func (s *Store) RecordAllocation(ctx context.Context, a idrange.Allocation) error {
	var record = &database.AllocationRecord{
		SessionID:   s.sessionID,
		SubPoolName: a.Range.Name,
		PoolName:    a.Pool,
		OwnerID:     string(a.Owner),
		MinIdx:      a.Range.MinIdx,
		MaxIdx:      a.Range.MaxIdx,
		CommittedAt: a.CommittedAt,
	}

	if err := s.queries.RecordAllocation(ctx, record); err != nil {
		return fmt.Errorf("failed to record allocation %s: %w", a.Range, err)
	}
	return nil
}

// ListAllocations returns every recorded allocation of a pool, ordered by range start.
func (s *Store) ListAllocations(ctx context.Context, poolName string) ([]idrange.Allocation, error) {
	var records, err = s.queries.ListAllocations(ctx, s.sessionID, poolName)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations of pool %q: %w", poolName, err)
	}

	var allocations = make([]idrange.Allocation, len(records))
	for i, record := range records {
		allocations[i] = idrange.Allocation{
			Pool: record.PoolName,
			Range: idrange.Range{
				Name:   record.SubPoolName,
				MinIdx: record.MinIdx,
				MaxIdx: record.MaxIdx,
			},
			Owner:       idrange.PeerID(record.OwnerID),
			CommittedAt: record.CommittedAt,
		}
	}
	return allocations, nil
}
