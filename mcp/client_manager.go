// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Metrics receives cache and connection events. The prometheus
// implementation lives in the metrics package.
type Metrics interface {
	IncCacheHit()
	IncCacheMiss()
	IncEviction()
	IncConnectFailure(serverName string)
	SetActiveUsers(n float64)
	ObserveProbeDuration(seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) IncCacheHit()                 {}
func (noopMetrics) IncCacheMiss()                {}
func (noopMetrics) IncEviction()                 {}
func (noopMetrics) IncConnectFailure(string)     {}
func (noopMetrics) SetActiveUsers(float64)       {}
func (noopMetrics) ObserveProbeDuration(float64) {}

// ManagerConfig carries the cache and probing tunables.
type ManagerConfig struct {
	// SlidingTTL evicts a user's connections this long after their last
	// use. AbsoluteTTL is the ceiling regardless of activity.
	SlidingTTL  time.Duration
	AbsoluteTTL time.Duration
	// CleanupInterval is how often the eviction sweep runs.
	CleanupInterval time.Duration
	// StatusTTL bounds how long a probed status list is served from cache.
	StatusTTL time.Duration
	// ProbeTimeout bounds each status probe's wall-clock duration.
	ProbeTimeout time.Duration
}

func (c *ManagerConfig) applyDefaults() {
	if c.SlidingTTL <= 0 {
		c.SlidingTTL = 30 * time.Minute
	}
	if c.AbsoluteTTL <= 0 {
		c.AbsoluteTTL = 4 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// cacheEntry is one user's cached connection set.
type cacheEntry struct {
	client    *UserClient
	createdAt time.Time

	mu         sync.Mutex
	lastAccess time.Time
}

func (e *cacheEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastAccess = now
	e.mu.Unlock()
}

func (e *cacheEntry) expired(now time.Time, sliding, absolute time.Duration) bool {
	if now.Sub(e.createdAt) > absolute {
		return true
	}
	e.mu.Lock()
	last := e.lastAccess
	e.mu.Unlock()
	return now.Sub(last) > sliding
}

// ClientManager owns the per-user MCP connection cache. Creation of a
// user's connection set is single-flighted behind a per-user mutex;
// eviction hands the evicted connections to a background goroutine so no
// caller ever blocks on teardown.
type ClientManager struct {
	resolver  *Resolver
	connector *Connector
	cfg       ManagerConfig
	log       logrus.FieldLogger
	metrics   Metrics

	// locksMu guards userLocks only; it is never held during connection
	// I/O. Entries are created lazily and never removed, so the registry
	// grows with the distinct-user population.
	locksMu   sync.Mutex
	userLocks map[string]*sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry

	statusMu sync.RWMutex
	statuses map[string]*statusEntry

	cleanupTicker *time.Ticker
	closeChan     chan struct{}
	closeOnce     sync.Once
}

// NewClientManager creates a manager and starts its eviction sweep.
func NewClientManager(resolver *Resolver, connector *Connector, cfg ManagerConfig, log logrus.FieldLogger, m Metrics) *ClientManager {
	cfg.applyDefaults()
	if m == nil {
		m = noopMetrics{}
	}

	manager := &ClientManager{
		resolver:  resolver,
		connector: connector,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		userLocks: make(map[string]*sync.Mutex),
		cache:     make(map[string]*cacheEntry),
		statuses:  make(map[string]*statusEntry),

		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		closeChan:     make(chan struct{}),
	}

	go manager.evictExpired()

	return manager
}

// userLock returns the mutex for a user's cache key, creating it on first
// use.
func (m *ClientManager) userLock(userID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	return lock
}

// lookupFresh returns the user's cached client if present and unexpired,
// sliding its expiration forward.
func (m *ClientManager) lookupFresh(userID string) *UserClient {
	m.cacheMu.RLock()
	entry, ok := m.cache[userID]
	m.cacheMu.RUnlock()
	if !ok {
		return nil
	}

	now := time.Now()
	if entry.expired(now, m.cfg.SlidingTTL, m.cfg.AbsoluteTTL) {
		return nil
	}
	entry.touch(now)
	return entry.client
}

// EnsureConnections returns the user's live connections, building them if
// the cache has no fresh entry. Concurrent callers for the same user share
// a single build; a single server's connection failure is logged and that
// server skipped.
func (m *ClientManager) EnsureConnections(ctx context.Context, userID string) ([]*ServerConnection, error) {
	if client := m.lookupFresh(userID); client != nil {
		m.metrics.IncCacheHit()
		return client.Connections(), nil
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have finished the build while we waited.
	if client := m.lookupFresh(userID); client != nil {
		m.metrics.IncCacheHit()
		return client.Connections(), nil
	}
	m.metrics.IncCacheMiss()

	configs, err := m.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	client := newUserClient(userID, m.log)
	client.connectToAllServers(ctx, configs, m.connector)
	for _, cfg := range configs {
		if _, ok := client.conns[cfg.Name]; !ok {
			m.metrics.IncConnectFailure(cfg.Name)
		}
	}

	now := time.Now()
	entry := &cacheEntry{
		client:     client,
		createdAt:  now,
		lastAccess: now,
	}

	m.cacheMu.Lock()
	if old, ok := m.cache[userID]; ok {
		// An expired entry was still present; dispose of it off the
		// critical path.
		m.disposeAsync(userID, old.client)
	}
	m.cache[userID] = entry
	m.metrics.SetActiveUsers(float64(len(m.cache)))
	m.cacheMu.Unlock()

	return client.Connections(), nil
}

// GetToolsForUser returns the tool handles available to a user, connecting
// first if needed.
func (m *ClientManager) GetToolsForUser(ctx context.Context, userID string) ([]Tool, error) {
	if _, err := m.EnsureConnections(ctx, userID); err != nil {
		return nil, err
	}

	m.cacheMu.RLock()
	entry, ok := m.cache[userID]
	m.cacheMu.RUnlock()
	if !ok {
		return nil, nil
	}
	return entry.client.GetTools(), nil
}

// AttachUserPlugins offers each of the user's connected servers to the
// host as a named tool plugin.
func (m *ClientManager) AttachUserPlugins(ctx context.Context, userID string, host PluginHost) error {
	if _, err := m.EnsureConnections(ctx, userID); err != nil {
		return err
	}

	m.cacheMu.RLock()
	entry, ok := m.cache[userID]
	m.cacheMu.RUnlock()
	if ok {
		entry.client.AttachTo(host)
	}
	return nil
}

// DisconnectUser removes the user's cached connections and status entry,
// disposing of the connections in the background. A no-op when nothing is
// cached.
func (m *ClientManager) DisconnectUser(userID string) {
	m.cacheMu.Lock()
	entry, ok := m.cache[userID]
	if ok {
		delete(m.cache, userID)
	}
	m.metrics.SetActiveUsers(float64(len(m.cache)))
	m.cacheMu.Unlock()

	m.statusMu.Lock()
	delete(m.statuses, userID)
	m.statusMu.Unlock()

	if ok {
		m.disposeAsync(userID, entry.client)
	}
}

// disposeAsync tears down a user's connections without blocking the
// caller. Disposal errors are logged and swallowed.
func (m *ClientManager) disposeAsync(userID string, client *UserClient) {
	go func() {
		if err := client.Close(); err != nil {
			m.log.WithField("userID", userID).WithError(err).Error("Failed to dispose MCP connections")
		}
	}()
}

// evictExpired periodically removes expired cache entries.
func (m *ClientManager) evictExpired() {
	for {
		select {
		case <-m.cleanupTicker.C:
			now := time.Now()

			m.cacheMu.Lock()
			for userID, entry := range m.cache {
				if entry.expired(now, m.cfg.SlidingTTL, m.cfg.AbsoluteTTL) {
					m.log.WithField("userID", userID).Debug("Evicting idle MCP connections")
					delete(m.cache, userID)
					m.metrics.IncEviction()
					m.disposeAsync(userID, entry.client)
				}
			}
			m.metrics.SetActiveUsers(float64(len(m.cache)))
			m.cacheMu.Unlock()

			m.statusMu.Lock()
			for userID, entry := range m.statuses {
				if now.Sub(entry.fetchedAt) > m.cfg.StatusTTL {
					delete(m.statuses, userID)
				}
			}
			m.statusMu.Unlock()
		case <-m.closeChan:
			return
		}
	}
}

// Close stops the eviction sweep and tears down every cached connection.
// The manager must not be used after Close.
func (m *ClientManager) Close() {
	m.closeOnce.Do(func() {
		close(m.closeChan)
		m.cleanupTicker.Stop()

		m.cacheMu.Lock()
		defer m.cacheMu.Unlock()

		for userID, entry := range m.cache {
			if err := entry.client.Close(); err != nil {
				m.log.WithField("userID", userID).WithError(err).Error("Failed to close MCP connections on shutdown")
			}
		}
		m.cache = make(map[string]*cacheEntry)
	})
}
