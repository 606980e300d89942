// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SetupTables creates the tables backing the config and secret stores.
func SetupTables(db *sqlx.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS mcp_servers (
			tier TEXT NOT NULL CHECK (tier IN ('global', 'role', 'user')),
			owner TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			args TEXT NOT NULL DEFAULT '[]',
			env TEXT NOT NULL DEFAULT '{}',
			base_url TEXT NOT NULL DEFAULT '',
			headers TEXT NOT NULL DEFAULT '{}',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (tier, owner, name)
		)`,
	); err != nil {
		return fmt.Errorf("failed to create mcp_servers table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS mcp_user_roles (
			user_id TEXT PRIMARY KEY,
			role TEXT NOT NULL
		)`,
	); err != nil {
		return fmt.Errorf("failed to create mcp_user_roles table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS mcp_secrets (
			user_id TEXT NOT NULL,
			input_id TEXT NOT NULL,
			protected_value TEXT NOT NULL,
			PRIMARY KEY (user_id, input_id)
		)`,
	); err != nil {
		return fmt.Errorf("failed to create mcp_secrets table: %w", err)
	}

	return nil
}
