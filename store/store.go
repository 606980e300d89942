// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package store implements the SQL-backed configuration and secret stores.
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mcpgate/mcpgate/mcp"
)

const (
	tierGlobal = "global"
	tierRole   = "role"
	tierUser   = "user"
)

// SQLStore provides MCP server configurations, user roles and protected
// secrets from a SQL database.
type SQLStore struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
	log     logrus.FieldLogger
}

func New(db *sqlx.DB, log logrus.FieldLogger) *SQLStore {
	return &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		log:     log,
	}
}

type serverRow struct {
	Tier    string `db:"tier"`
	Owner   string `db:"owner"`
	Name    string `db:"name"`
	Kind    string `db:"kind"`
	Command string `db:"command"`
	Args    string `db:"args"`
	Env     string `db:"env"`
	BaseURL string `db:"base_url"`
	Headers string `db:"headers"`
	Enabled bool   `db:"enabled"`
}

// toConfig converts a stored row, parsing the JSON columns fail-open:
// malformed args, env or headers normalize to empty values rather than
// failing the resolution.
func (r serverRow) toConfig(tier mcp.Tier, log logrus.FieldLogger) mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:    r.Name,
		Kind:    mcp.ServerKind(r.Kind),
		Enabled: r.Enabled,
		Tier:    tier,
		Command: r.Command,
		Args:    parseStringList(r.Args, r.Name, log),
		Env:     parseStringMap(r.Env, r.Name, log),
		BaseURL: r.BaseURL,
		Headers: parseStringMap(r.Headers, r.Name, log),
	}
}

func parseStringList(raw, server string, log logrus.FieldLogger) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.WithField("server", server).WithError(err).Warn("Malformed JSON list in server config, using empty list")
		return nil
	}
	return out
}

func parseStringMap(raw, server string, log logrus.FieldLogger) map[string]string {
	if raw == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.WithField("server", server).WithError(err).Warn("Malformed JSON map in server config, using empty map")
		return nil
	}
	return out
}

func (s *SQLStore) getServers(ctx context.Context, tier mcp.Tier, tierName, owner string) ([]mcp.ServerConfig, error) {
	query, args, err := s.builder.
		Select("tier", "owner", "name", "kind", "command", "args", "env", "base_url", "headers", "enabled").
		From("mcp_servers").
		Where(sq.Eq{"tier": tierName, "owner": owner}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build server query")
	}

	var rows []serverRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query servers")
	}

	configs := make([]mcp.ServerConfig, 0, len(rows))
	for _, row := range rows {
		configs = append(configs, row.toConfig(tier, s.log))
	}
	return configs, nil
}

func (s *SQLStore) GetGlobalServers(ctx context.Context) ([]mcp.ServerConfig, error) {
	return s.getServers(ctx, mcp.TierGlobal, tierGlobal, "")
}

func (s *SQLStore) GetRoleServers(ctx context.Context, role string) ([]mcp.ServerConfig, error) {
	return s.getServers(ctx, mcp.TierRole, tierRole, role)
}

func (s *SQLStore) GetUserServers(ctx context.Context, userID string) ([]mcp.ServerConfig, error) {
	return s.getServers(ctx, mcp.TierUser, tierUser, userID)
}

// GetUserRole returns the user's role, or "" when none is assigned.
func (s *SQLStore) GetUserRole(ctx context.Context, userID string) (string, error) {
	query, args, err := s.builder.
		Select("role").
		From("mcp_user_roles").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return "", errors.Wrap(err, "failed to build role query")
	}

	var role string
	if err := s.db.GetContext(ctx, &role, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to query user role")
	}
	return role, nil
}

// UpsertServer stores one server definition under the given tier and owner
// (empty for global, role name for role tier, user id for user tier).
func (s *SQLStore) UpsertServer(ctx context.Context, tierName, owner string, cfg mcp.ServerConfig) error {
	argsJSON, err := json.Marshal(cfg.Args)
	if err != nil {
		return errors.Wrap(err, "failed to serialize args")
	}
	envJSON, err := json.Marshal(cfg.Env)
	if err != nil {
		return errors.Wrap(err, "failed to serialize env")
	}
	headersJSON, err := json.Marshal(cfg.Headers)
	if err != nil {
		return errors.Wrap(err, "failed to serialize headers")
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO mcp_servers (tier, owner, name, kind, command, args, env, base_url, headers, enabled)
		VALUES (:tier, :owner, :name, :kind, :command, :args, :env, :base_url, :headers, :enabled)
		ON CONFLICT (tier, owner, name) DO UPDATE SET
			kind = EXCLUDED.kind,
			command = EXCLUDED.command,
			args = EXCLUDED.args,
			env = EXCLUDED.env,
			base_url = EXCLUDED.base_url,
			headers = EXCLUDED.headers,
			enabled = EXCLUDED.enabled`,
		map[string]interface{}{
			"tier":     tierName,
			"owner":    owner,
			"name":     cfg.Name,
			"kind":     string(cfg.Kind),
			"command":  cfg.Command,
			"args":     string(argsJSON),
			"env":      string(envJSON),
			"base_url": cfg.BaseURL,
			"headers":  string(headersJSON),
			"enabled":  cfg.Enabled,
		},
	)
	return errors.Wrap(err, "failed to upsert server")
}

// GetProtectedValue returns the protected secret for (userID, inputID).
func (s *SQLStore) GetProtectedValue(ctx context.Context, userID, inputID string) (string, bool, error) {
	query, args, err := s.builder.
		Select("protected_value").
		From("mcp_secrets").
		Where(sq.Eq{"user_id": userID, "input_id": inputID}).
		ToSql()
	if err != nil {
		return "", false, errors.Wrap(err, "failed to build secret query")
	}

	var value string
	if err := s.db.GetContext(ctx, &value, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "failed to query secret")
	}
	return value, true, nil
}

// UpsertSecret stores an already protected secret value.
func (s *SQLStore) UpsertSecret(ctx context.Context, userID, inputID, protectedValue string) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO mcp_secrets (user_id, input_id, protected_value)
		VALUES (:user_id, :input_id, :protected_value)
		ON CONFLICT (user_id, input_id) DO UPDATE SET
			protected_value = EXCLUDED.protected_value`,
		map[string]interface{}{
			"user_id":         userID,
			"input_id":        inputID,
			"protected_value": protectedValue,
		},
	)
	return errors.Wrap(err, "failed to upsert secret")
}

// DeleteSecret removes a stored secret. A no-op when absent.
func (s *SQLStore) DeleteSecret(ctx context.Context, userID, inputID string) error {
	query, args, err := s.builder.
		Delete("mcp_secrets").
		Where(sq.Eq{"user_id": userID, "input_id": inputID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build secret delete")
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "failed to delete secret")
}
