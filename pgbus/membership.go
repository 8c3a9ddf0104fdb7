package pgbus

import (
	"context"
	"fmt"
	"time"

	"go-idrange/database"
)

// membership keeps this peer's participant lease alive.
type membership struct {
	queries   *database.Queries
	sessionID string
	peerID    string
	leaseTTL  time.Duration
	joinedAt  time.Time
}

// newMembership creates a new membership for one peer.
func newMembership(queries *database.Queries, sessionID, peerID string, leaseTTL time.Duration) *membership {
	return &membership{
		queries:   queries,
		sessionID: sessionID,
		peerID:    peerID,
		leaseTTL:  leaseTTL,
	}
}

// Join registers this peer as a live participant.
func (m *membership) Join(ctx context.Context) error {
	m.joinedAt = time.Now()
	if err := m.Heartbeat(ctx); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}
	return nil
}

// Heartbeat extends this peer's lease.
func (m *membership) Heartbeat(ctx context.Context) error {
	var now = time.Now()
	var record = &database.ParticipantRecord{
		SessionID: m.sessionID,
		PeerID:    m.peerID,
		JoinedAt:  m.joinedAt,
		ExpiresAt: now.Add(m.leaseTTL),
	}

	if err := m.queries.HeartbeatParticipant(ctx, record); err != nil {
		return fmt.Errorf("failed to renew participant lease: %w", err)
	}
	return nil
}

// LiveParticipants returns the ids of all peers with an unexpired lease,
// this one included.
func (m *membership) LiveParticipants(ctx context.Context) ([]string, error) {
	var records, err = m.queries.ListParticipants(ctx, m.sessionID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	var peers = make([]string, len(records))
	for i, record := range records {
		peers[i] = record.PeerID
	}
	return peers, nil
}

// RemoteCount returns how many live participants are not this peer.
func (m *membership) RemoteCount(ctx context.Context) (int, error) {
	var peers, err = m.LiveParticipants(ctx)
	if err != nil {
		return 0, err
	}

	var count = 0
	for _, peer := range peers {
		if peer != m.peerID {
			count++
		}
	}
	return count, nil
}

// CleanupExpired removes the leases of peers that stopped heartbeating.
func (m *membership) CleanupExpired(ctx context.Context) (int64, error) {
	var deleted, err = m.queries.DeleteExpiredParticipants(ctx, m.sessionID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired participants: %w", err)
	}
	return deleted, nil
}

// Leave removes this peer's lease.
func (m *membership) Leave(ctx context.Context) error {
	if err := m.queries.DeleteParticipant(ctx, m.sessionID, m.peerID); err != nil {
		return fmt.Errorf("failed to leave session: %w", err)
	}
	return nil
}
