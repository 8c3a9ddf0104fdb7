package database

import (
	"database/sql"
	"fmt"
)

var (
	createParticipantsTableSQL = `
CREATE TABLE IF NOT EXISTS %s_participants (
    session_id    VARCHAR       NOT NULL,
    peer_id       VARCHAR       NOT NULL,
    joined_at     TIMESTAMPTZ   NOT NULL,
    expires_at    TIMESTAMPTZ   NOT NULL,

    PRIMARY KEY (session_id, peer_id)
);`

	createAllocationsTableSQL = `
CREATE TABLE IF NOT EXISTS %s_allocations (
    session_id      VARCHAR       NOT NULL,
    sub_pool_name   VARCHAR       NOT NULL,
    pool_name       VARCHAR       NOT NULL,
    owner_id        VARCHAR       NOT NULL,
    min_idx         BIGINT        NOT NULL,
    max_idx         BIGINT        NOT NULL,
    committed_at    TIMESTAMPTZ   NOT NULL,

    PRIMARY KEY (session_id, sub_pool_name)
);`

	createAllocationsIndexSQL = `
CREATE INDEX IF NOT EXISTS %s
ON %s_allocations (session_id, pool_name, min_idx);`
)

// Migrate creates the participants and allocations tables with indexes.
func Migrate(db *sql.DB, tableName string) error {
	if err := ValidateSessionID(tableName); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	if err := createParticipantsTable(db, tableName); err != nil {
		return err
	}

	if err := createAllocationsTable(db, tableName); err != nil {
		return err
	}

	if err := createAllocationsIndex(db, tableName); err != nil {
		return err
	}

	return nil
}

func createParticipantsTable(db *sql.DB, tableName string) error {
	var query = fmt.Sprintf(createParticipantsTableSQL, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create participants table: %w", err)
	}
	return nil
}

func createAllocationsTable(db *sql.DB, tableName string) error {
	var query = fmt.Sprintf(createAllocationsTableSQL, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create allocations table: %w", err)
	}
	return nil
}

func createAllocationsIndex(db *sql.DB, tableName string) error {
	var (
		indexName = fmt.Sprintf("%s_allocations_pool_idx", tableName)
		query     = fmt.Sprintf(createAllocationsIndexSQL, indexName, tableName)
	)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create allocations index: %w", err)
	}
	return nil
}
