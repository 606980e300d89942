// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package store

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/mcp"
)

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestServerRowToConfig(t *testing.T) {
	row := serverRow{
		Name:    "jira",
		Kind:    "sse",
		BaseURL: "https://mcp.example.com/sse",
		Args:    `["--flag"]`,
		Env:     `{"A":"1"}`,
		Headers: `{"Authorization":"Bearer ${input:apiKey}"}`,
		Enabled: true,
	}

	cfg := row.toConfig(mcp.TierRole, testLogger())
	assert.Equal(t, "jira", cfg.Name)
	assert.Equal(t, mcp.KindSSE, cfg.Kind)
	assert.Equal(t, mcp.TierRole, cfg.Tier)
	assert.Equal(t, []string{"--flag"}, cfg.Args)
	assert.Equal(t, map[string]string{"A": "1"}, cfg.Env)
	assert.Equal(t, "Bearer ${input:apiKey}", cfg.Headers["Authorization"])
}

func TestServerRowMalformedJSONFailsOpen(t *testing.T) {
	row := serverRow{
		Name:    "broken",
		Kind:    "stdio",
		Command: "/usr/bin/broken",
		Args:    `{not json`,
		Env:     `[1,2,3]`,
		Headers: `"nope`,
		Enabled: true,
	}

	cfg := row.toConfig(mcp.TierGlobal, testLogger())
	assert.Empty(t, cfg.Args)
	assert.Empty(t, cfg.Env)
	assert.Empty(t, cfg.Headers)
	assert.Equal(t, "/usr/bin/broken", cfg.Command)
}

func TestParseHelpersEmptyInput(t *testing.T) {
	log := testLogger()
	assert.Nil(t, parseStringList("", "srv", log))
	assert.Nil(t, parseStringMap("", "srv", log))
	assert.Equal(t, []string{}, parseStringList("[]", "srv", log))
}

// The tests below need a reachable PostgreSQL. Set MCPGATE_TEST_DSN to run
// them.
func testDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("MCPGATE_TEST_DSN")
	if dsn == "" {
		t.Skip("MCPGATE_TEST_DSN not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to PostgreSQL")
	t.Cleanup(func() {
		_, _ = db.Exec("DROP TABLE IF EXISTS mcp_servers, mcp_user_roles, mcp_secrets")
		db.Close()
	})

	require.NoError(t, SetupTables(db))
	return db
}

func TestSQLStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	s := New(db, testLogger())
	ctx := context.Background()

	global := mcp.ServerConfig{
		Name:    "search",
		Kind:    mcp.KindStdio,
		Enabled: true,
		Command: "/usr/local/bin/search",
		Args:    []string{"--index", "main"},
		Env:     map[string]string{"MODE": "prod"},
	}
	require.NoError(t, s.UpsertServer(ctx, tierGlobal, "", global))

	userCfg := mcp.ServerConfig{
		Name:    "jira",
		Kind:    mcp.KindSSE,
		Enabled: true,
		BaseURL: "https://mcp.example.com/sse",
		Headers: map[string]string{"Authorization": "Bearer ${input:apiKey}"},
	}
	require.NoError(t, s.UpsertServer(ctx, tierUser, "alice", userCfg))

	globals, err := s.GetGlobalServers(ctx)
	require.NoError(t, err)
	require.Len(t, globals, 1)
	assert.Equal(t, []string{"--index", "main"}, globals[0].Args)
	assert.Equal(t, mcp.TierGlobal, globals[0].Tier)

	users, err := s.GetUserServers(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "https://mcp.example.com/sse", users[0].BaseURL)
	assert.Equal(t, mcp.TierUser, users[0].Tier)

	none, err := s.GetUserServers(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLStoreRoles(t *testing.T) {
	db := testDB(t)
	s := New(db, testLogger())
	ctx := context.Background()

	role, err := s.GetUserRole(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, role)

	_, err = db.Exec("INSERT INTO mcp_user_roles (user_id, role) VALUES ($1, $2)", "alice", "engineering")
	require.NoError(t, err)

	role, err = s.GetUserRole(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "engineering", role)
}

func TestSQLStoreSecrets(t *testing.T) {
	db := testDB(t)
	s := New(db, testLogger())
	ctx := context.Background()

	_, found, err := s.GetProtectedValue(ctx, "alice", "apiKey")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.UpsertSecret(ctx, "alice", "apiKey", "protected-blob"))

	value, found, err := s.GetProtectedValue(ctx, "alice", "apiKey")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "protected-blob", value)

	require.NoError(t, s.DeleteSecret(ctx, "alice", "apiKey"))
	_, found, err = s.GetProtectedValue(ctx, "alice", "apiKey")
	require.NoError(t, err)
	assert.False(t, found)
}
