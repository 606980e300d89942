// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package metrics instruments the connection manager with prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	MetricsNamespace = "mcpgate"

	MetricsSubsystemSystem = "system"
	MetricsSubsystemCache  = "cache"
	MetricsSubsystemConn   = "connections"
	MetricsSubsystemProbe  = "probes"

	MetricsVersionLabel = "version"
)

// Metrics is the instrumentation surface consumed by the mcp package.
type Metrics interface {
	GetRegistry() *prometheus.Registry

	IncCacheHit()
	IncCacheMiss()
	IncEviction()
	IncConnectFailure(serverName string)
	SetActiveUsers(n float64)
	ObserveProbeDuration(seconds float64)
}

type InstanceInfo struct {
	Version string
}

// metrics used to instrumentate metrics in prometheus.
type metrics struct {
	registry *prometheus.Registry

	serviceStartTime prometheus.Gauge
	serviceInfo      prometheus.Gauge

	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	evictionsTotal   prometheus.Counter

	connectFailuresTotal *prometheus.CounterVec
	activeUsers          prometheus.Gauge

	probeDuration prometheus.Histogram
}

// NewMetrics Factory method to create a new metrics collector.
func NewMetrics(info InstanceInfo) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	options := collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}
	m.registry.MustRegister(collectors.NewProcessCollector(options))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.serviceStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "service_start_timestamp_seconds",
		Help:      "The time the service started.",
	})
	m.serviceStartTime.SetToCurrentTime()
	m.registry.MustRegister(m.serviceStartTime)

	m.serviceInfo = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "service_info",
		Help:      "The service version.",
		ConstLabels: map[string]string{
			MetricsVersionLabel: info.Version,
		},
	})
	m.serviceInfo.Set(1)
	m.registry.MustRegister(m.serviceInfo)

	m.cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "hits_total",
		Help:      "Number of connection cache hits.",
	})
	m.registry.MustRegister(m.cacheHitsTotal)

	m.cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "misses_total",
		Help:      "Number of connection cache misses that triggered a build.",
	})
	m.registry.MustRegister(m.cacheMissesTotal)

	m.evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "evictions_total",
		Help:      "Number of cache entries evicted by TTL.",
	})
	m.registry.MustRegister(m.evictionsTotal)

	m.connectFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemConn,
		Name:      "failures_total",
		Help:      "Number of MCP servers that failed to connect after retries.",
	}, []string{"server"})
	m.registry.MustRegister(m.connectFailuresTotal)

	m.activeUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemConn,
		Name:      "active_users",
		Help:      "Number of users with cached connection sets.",
	})
	m.registry.MustRegister(m.activeUsers)

	m.probeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemProbe,
		Name:      "duration_seconds",
		Help:      "Time to probe one MCP server.",
	})
	m.registry.MustRegister(m.probeDuration)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) IncCacheHit() {
	m.cacheHitsTotal.Inc()
}

func (m *metrics) IncCacheMiss() {
	m.cacheMissesTotal.Inc()
}

func (m *metrics) IncEviction() {
	m.evictionsTotal.Inc()
}

func (m *metrics) IncConnectFailure(serverName string) {
	m.connectFailuresTotal.With(prometheus.Labels{"server": serverName}).Inc()
}

func (m *metrics) SetActiveUsers(n float64) {
	m.activeUsers.Set(n)
}

func (m *metrics) ObserveProbeDuration(seconds float64) {
	m.probeDuration.Observe(seconds)
}
