// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConfigStore supplies server definitions for each configuration tier.
type ConfigStore interface {
	GetGlobalServers(ctx context.Context) ([]ServerConfig, error)
	GetRoleServers(ctx context.Context, role string) ([]ServerConfig, error)
	GetUserServers(ctx context.Context, userID string) ([]ServerConfig, error)
}

// RoleSource maps a user to their role, if any.
type RoleSource interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
}

// Resolver merges the three configuration tiers into the effective server
// set for one user. It has no state of its own and is safe for concurrent
// use.
type Resolver struct {
	store ConfigStore
	roles RoleSource
	log   logrus.FieldLogger
}

func NewResolver(store ConfigStore, roles RoleSource, log logrus.FieldLogger) *Resolver {
	return &Resolver{
		store: store,
		roles: roles,
		log:   log,
	}
}

// Resolve returns the deduplicated, ordered set of server configurations
// effective for the given user. Precedence is User > Role > Global by
// server name (case-insensitive); disabled entries are dropped after the
// merge so a higher tier can disable a lower tier's server; configs that
// are identical apart from their name collapse to the first survivor.
func (r *Resolver) Resolve(ctx context.Context, userID string) ([]ServerConfig, error) {
	global, err := r.store.GetGlobalServers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get global servers")
	}

	role, err := r.roles.GetUserRole(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get role for user %s", userID)
	}

	var roleServers []ServerConfig
	if role != "" {
		roleServers, err = r.store.GetRoleServers(ctx, role)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get servers for role %s", role)
		}
	}

	userServers, err := r.store.GetUserServers(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get servers for user %s", userID)
	}

	// Fold the tiers in fixed precedence order. Later tiers overwrite by
	// name, which makes the precedence rule a property of the fold order
	// alone.
	merged := map[string]ServerConfig{}
	for _, tier := range [][]ServerConfig{global, roleServers, userServers} {
		for _, cfg := range tier {
			merged[strings.ToLower(cfg.Name)] = cfg
		}
	}

	effective := make([]ServerConfig, 0, len(merged))
	for _, cfg := range merged {
		if !cfg.Enabled {
			continue
		}
		effective = append(effective, cfg)
	}

	sort.Slice(effective, func(i, j int) bool {
		if effective[i].Tier != effective[j].Tier {
			return effective[i].Tier > effective[j].Tier
		}
		return strings.ToLower(effective[i].Name) < strings.ToLower(effective[j].Name)
	})

	// Drop differently named duplicates of the same server, keeping the
	// first occurrence in the order above.
	seen := map[string]string{}
	deduped := effective[:0]
	for _, cfg := range effective {
		fp := cfg.Fingerprint()
		if survivor, ok := seen[fp]; ok {
			r.log.WithFields(logrus.Fields{
				"userID":    userID,
				"server":    cfg.Name,
				"duplicate": survivor,
			}).Debug("Skipping duplicate MCP server config")
			continue
		}
		seen[fp] = cfg.Name
		deduped = append(deduped, cfg)
	}

	return deduped, nil
}
