// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ServerStatus reports the connectivity of one effective server for a
// user. Recomputed per probe cycle.
type ServerStatus struct {
	Name      string     `json:"name"`
	Source    string     `json:"source"`
	Kind      ServerKind `json:"kind"`
	Endpoint  string     `json:"endpoint"`
	Connected bool       `json:"connected"`
	Error     string     `json:"error,omitempty"`
}

// statusEntry caches one user's probed status list, independently of the
// connection cache.
type statusEntry struct {
	statuses  []ServerStatus
	fetchedAt time.Time
}

// GetServerStatuses probes every effective server for the user in parallel
// and reports per-server connectivity. Probe connections are short-lived
// and never enter the long-lived connection cache; results are cached
// under their own short TTL. Probe failures are reported in the records,
// never returned as errors.
func (m *ClientManager) GetServerStatuses(ctx context.Context, userID string) ([]ServerStatus, error) {
	m.statusMu.RLock()
	entry, ok := m.statuses[userID]
	m.statusMu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < m.cfg.StatusTTL {
		return slices.Clone(entry.statuses), nil
	}

	configs, err := m.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	statuses := make([]ServerStatus, len(configs))
	var g errgroup.Group
	for i, cfg := range configs {
		g.Go(func() error {
			statuses[i] = m.probeServer(ctx, userID, cfg)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Source != statuses[j].Source {
			return statuses[i].Source < statuses[j].Source
		}
		return strings.ToLower(statuses[i].Name) < strings.ToLower(statuses[j].Name)
	})

	// A canceled request produces failure records that say nothing about
	// the servers; don't let them serve later callers for a full TTL.
	if ctx.Err() == nil {
		m.statusMu.Lock()
		m.statuses[userID] = &statusEntry{
			statuses:  statuses,
			fetchedAt: time.Now(),
		}
		m.statusMu.Unlock()
	}

	return slices.Clone(statuses), nil
}

// probeServer makes one short-lived, time-bounded connection attempt and
// closes it immediately after listing tools.
func (m *ClientManager) probeServer(ctx context.Context, userID string, cfg ServerConfig) ServerStatus {
	status := ServerStatus{
		Name:     cfg.Name,
		Source:   cfg.Tier.String(),
		Kind:     cfg.Kind,
		Endpoint: cfg.Endpoint(),
	}

	start := time.Now()
	defer func() {
		m.metrics.ObserveProbeDuration(time.Since(start).Seconds())
	}()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	probeClient, err := m.connector.Connect(probeCtx, cfg, userID)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer func() {
		if closeErr := probeClient.Close(); closeErr != nil {
			m.log.WithFields(logrus.Fields{
				"userID": userID,
				"server": cfg.Name,
			}).WithError(closeErr).Debug("Failed to close probe connection")
		}
	}()

	if _, err := probeClient.ListTools(probeCtx, mcp.ListToolsRequest{}); err != nil {
		status.Error = err.Error()
		return status
	}

	status.Connected = true
	return status
}
