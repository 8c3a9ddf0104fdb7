package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries provides table-aware database operations.
type Queries struct {
	db        DBTX
	tableName string
}

// NewQueries creates a new Queries instance with the given table name.
func NewQueries(db DBTX, tableName string) *Queries {
	return &Queries{
		db:        db,
		tableName: tableName,
	}
}

var (
	heartbeatParticipantSQL = `
INSERT INTO %s_participants (session_id, peer_id, joined_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, peer_id)
DO UPDATE SET
    expires_at = EXCLUDED.expires_at;`

	listParticipantsSQL = `
SELECT session_id, peer_id, joined_at, expires_at
FROM %s_participants
WHERE session_id = $1 AND expires_at > $2
ORDER BY peer_id ASC;`

	deleteParticipantSQL = `
DELETE FROM %s_participants
WHERE session_id = $1 AND peer_id = $2;`

	deleteExpiredParticipantsSQL = `
DELETE FROM %s_participants
WHERE session_id = $1 AND expires_at <= $2;`

	recordAllocationSQL = `
INSERT INTO %s_allocations (session_id, sub_pool_name, pool_name, owner_id, min_idx, max_idx, committed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id, sub_pool_name)
DO NOTHING;`

	listAllocationsSQL = `
SELECT session_id, sub_pool_name, pool_name, owner_id, min_idx, max_idx, committed_at
FROM %s_allocations
WHERE session_id = $1 AND pool_name = $2
ORDER BY min_idx ASC;`

	notifySQL = `SELECT pg_notify($1, $2);`
)

// HeartbeatParticipant inserts a participant or extends its expiry.
func (q *Queries) HeartbeatParticipant(ctx context.Context, participant *ParticipantRecord) error {
	var query = fmt.Sprintf(heartbeatParticipantSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query,
		participant.SessionID, participant.PeerID, participant.JoinedAt, participant.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to heartbeat participant: %w", err)
	}
	return nil
}

// ListParticipants returns the participants of a session that are alive at now, ordered by peer id.
func (q *Queries) ListParticipants(ctx context.Context, sessionID string, now time.Time) ([]*ParticipantRecord, error) {
	var (
		query     = fmt.Sprintf(listParticipantsSQL, q.tableName)
		rows, err = q.db.QueryContext(ctx, query, sessionID, now)
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*ParticipantRecord
	for rows.Next() {
		var participant ParticipantRecord
		if err := rows.Scan(&participant.SessionID, &participant.PeerID,
			&participant.JoinedAt, &participant.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, &participant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return participants, nil
}

// DeleteParticipant removes a participant.
func (q *Queries) DeleteParticipant(ctx context.Context, sessionID, peerID string) error {
	var query = fmt.Sprintf(deleteParticipantSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query, sessionID, peerID)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	return nil
}

// DeleteExpiredParticipants removes participants whose heartbeat expired at now.
func (q *Queries) DeleteExpiredParticipants(ctx context.Context, sessionID string, now time.Time) (int64, error) {
	var query = fmt.Sprintf(deleteExpiredParticipantsSQL, q.tableName)
	result, err := q.db.ExecContext(ctx, query, sessionID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired participants: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted participants: %w", err)
	}
	return deleted, nil
}

// RecordAllocation inserts a committed allocation. Recording the same sub-pool twice is a no-op.
func (q *Queries) RecordAllocation(ctx context.Context, allocation *AllocationRecord) error {
	var query = fmt.Sprintf(recordAllocationSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query,
		allocation.SessionID, allocation.SubPoolName, allocation.PoolName, allocation.OwnerID,
		int64(allocation.MinIdx), int64(allocation.MaxIdx), allocation.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record allocation: %w", err)
	}
	return nil
}

// ListAllocations returns the committed allocations of a pool, ordered by range start.
func (q *Queries) ListAllocations(ctx context.Context, sessionID, poolName string) ([]*AllocationRecord, error) {
	var (
		query     = fmt.Sprintf(listAllocationsSQL, q.tableName)
		rows, err = q.db.QueryContext(ctx, query, sessionID, poolName)
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var allocations []*AllocationRecord
	for rows.Next() {
		var (
			allocation     AllocationRecord
			minIdx, maxIdx int64
		)
		if err := rows.Scan(&allocation.SessionID, &allocation.SubPoolName, &allocation.PoolName,
			&allocation.OwnerID, &minIdx, &maxIdx, &allocation.CommittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocation.MinIdx = uint32(minIdx)
		allocation.MaxIdx = uint32(maxIdx)
		allocations = append(allocations, &allocation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return allocations, nil
}

// Notify publishes payload on a LISTEN/NOTIFY channel.
func (q *Queries) Notify(ctx context.Context, channel, payload string) error {
	if _, err := q.db.ExecContext(ctx, notifySQL, channel, payload); err != nil {
		return fmt.Errorf("failed to notify channel %s: %w", channel, err)
	}
	return nil
}
