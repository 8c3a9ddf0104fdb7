package database

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrInvalidSessionID is returned when the session id contains invalid characters
	ErrInvalidSessionID = errors.New("session id must contain only lowercase letters, numbers, and underscores, and start with a letter")

	// validSessionIDPattern validates PostgreSQL-safe identifiers
	validSessionIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ParticipantRecord represents a live peer of a session.
type ParticipantRecord struct {
	SessionID string
	PeerID    string
	JoinedAt  time.Time
	ExpiresAt time.Time
}

// AllocationRecord represents a committed sub-pool.
type AllocationRecord struct {
	SessionID   string
	SubPoolName string
	PoolName    string
	OwnerID     string
	MinIdx      uint32
	MaxIdx      uint32
	CommittedAt time.Time
}

// ValidateSessionID checks if the session id is valid for use as a PostgreSQL identifier.
// Tables and the notification channel of a session are named after it.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: got an empty string", ErrInvalidSessionID)
	}

	// Leaves room for the longest table suffix within the 63 byte identifier limit.
	if len(sessionID) > 40 {
		return fmt.Errorf("%w: must be 40 characters or less", ErrInvalidSessionID)
	}

	if !validSessionIDPattern.MatchString(sessionID) {
		return ErrInvalidSessionID
	}

	return nil
}
