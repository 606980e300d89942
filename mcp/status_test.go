// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetServerStatuses(t *testing.T) {
	userCfg := sseConfig("user-sse", TierUser, "https://mcp.example.com/sse")
	store := &fakeConfigStore{
		global: []ServerConfig{
			stdioConfig("good", TierGlobal),
			stdioConfig("bad", TierGlobal),
		},
		user: map[string][]ServerConfig{"alice": {userCfg}},
	}
	factory := newFakeFactory()
	factory.alwaysFail["bad"] = true

	manager := testManager(store, &fakeRoleSource{}, factory, ManagerConfig{})
	defer manager.Close()

	statuses, err := manager.GetServerStatuses(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	// Sorted by source label, then name.
	assert.Equal(t, "bad", statuses[0].Name)
	assert.Equal(t, "Global", statuses[0].Source)
	assert.False(t, statuses[0].Connected)
	assert.Contains(t, statuses[0].Error, "unreachable")

	assert.Equal(t, "good", statuses[1].Name)
	assert.True(t, statuses[1].Connected)
	assert.Empty(t, statuses[1].Error)
	assert.Equal(t, "/usr/local/bin/good", statuses[1].Endpoint)

	assert.Equal(t, "user-sse", statuses[2].Name)
	assert.Equal(t, "User", statuses[2].Source)
	assert.Equal(t, KindSSE, statuses[2].Kind)
	assert.Equal(t, "https://mcp.example.com/sse", statuses[2].Endpoint)
}

func TestGetServerStatusesClosesProbeConnections(t *testing.T) {
	store := &fakeConfigStore{global: []ServerConfig{
		stdioConfig("alpha", TierGlobal),
		stdioConfig("beta", TierGlobal),
	}}
	factory := newFakeFactory()

	manager := testManager(store, &fakeRoleSource{}, factory, ManagerConfig{})
	defer manager.Close()

	_, err := manager.GetServerStatuses(context.Background(), "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return factory.totalCloses() == 2
	}, 5*time.Second, 10*time.Millisecond, "probe connections must be closed immediately")
}

func TestGetServerStatusesCached(t *testing.T) {
	store := &fakeConfigStore{global: []ServerConfig{stdioConfig("srv", TierGlobal)}}
	factory := newFakeFactory()

	manager := testManager(store, &fakeRoleSource{}, factory, ManagerConfig{
		StatusTTL: time.Hour,
	})
	defer manager.Close()

	_, err := manager.GetServerStatuses(context.Background(), "alice")
	require.NoError(t, err)
	_, err = manager.GetServerStatuses(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, factory.createCount("srv"))
}

func TestGetServerStatusesCanceledRequestNotCached(t *testing.T) {
	store := &fakeConfigStore{global: []ServerConfig{stdioConfig("srv", TierGlobal)}}
	factory := newFakeFactory()

	manager := testManager(store, &fakeRoleSource{}, factory, ManagerConfig{
		StatusTTL: time.Hour,
	})
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	statuses, err := manager.GetServerStatuses(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Connected)

	// The aborted cycle must not satisfy the next caller from cache.
	statuses, err = manager.GetServerStatuses(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Connected)
}

func TestGetServerStatusesDoesNotTouchConnectionCache(t *testing.T) {
	store := &fakeConfigStore{global: []ServerConfig{stdioConfig("srv", TierGlobal)}}
	factory := newFakeFactory()

	manager := testManager(store, &fakeRoleSource{}, factory, ManagerConfig{})
	defer manager.Close()

	conns, err := manager.EnsureConnections(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, conns, 1)

	_, err = manager.GetServerStatuses(context.Background(), "alice")
	require.NoError(t, err)

	manager.cacheMu.RLock()
	entry, present := manager.cache["alice"]
	manager.cacheMu.RUnlock()
	require.True(t, present, "status probing must not evict cached connections")

	again, err := manager.EnsureConnections(context.Background(), "alice")
	require.NoError(t, err)
	assert.Same(t, conns[0], again[0])
	assert.Len(t, entry.client.Connections(), 1)
}

func TestGetServerStatusesProbeTimeout(t *testing.T) {
	store := &fakeConfigStore{global: []ServerConfig{stdioConfig("slow", TierGlobal)}}
	factory := newFakeFactory()
	factory.alwaysFail["slow"] = true

	log := testLogger()
	resolver := NewResolver(store, &fakeRoleSource{}, log)
	// A retry delay far beyond the probe timeout: the probe must still
	// come back bounded by the per-probe deadline.
	connector := NewConnector(factory, testInjector(nil, nil), 5, time.Hour, log)
	manager := NewClientManager(resolver, connector, ManagerConfig{
		ProbeTimeout: 50 * time.Millisecond,
	}, log, nil)
	defer manager.Close()

	start := time.Now()
	statuses, err := manager.GetServerStatuses(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	assert.False(t, statuses[0].Connected)
	assert.NotEmpty(t, statuses[0].Error)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGetServerStatusesResolveErrorPropagates(t *testing.T) {
	store := &fakeConfigStore{err: assert.AnError}
	manager := testManager(store, &fakeRoleSource{}, newFakeFactory(), ManagerConfig{})
	defer manager.Close()

	_, err := manager.GetServerStatuses(context.Background(), "alice")
	require.Error(t, err)
}
