// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

type fakeConfigStore struct {
	global []ServerConfig
	role   map[string][]ServerConfig
	user   map[string][]ServerConfig
	err    error
}

func (s *fakeConfigStore) GetGlobalServers(_ context.Context) ([]ServerConfig, error) {
	return s.global, s.err
}

func (s *fakeConfigStore) GetRoleServers(_ context.Context, role string) ([]ServerConfig, error) {
	return s.role[role], s.err
}

func (s *fakeConfigStore) GetUserServers(_ context.Context, userID string) ([]ServerConfig, error) {
	return s.user[userID], s.err
}

type fakeRoleSource struct {
	roles map[string]string
}

func (s *fakeRoleSource) GetUserRole(_ context.Context, userID string) (string, error) {
	return s.roles[userID], nil
}

type fakeSecretStore struct {
	values map[string]string // "userID/inputID" -> protected value
	err    error
}

func (s *fakeSecretStore) GetProtectedValue(_ context.Context, userID, inputID string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[userID+"/"+inputID]
	return v, ok, nil
}

// passthroughOpener treats stored values as plaintext.
type passthroughOpener struct{}

func (passthroughOpener) Unprotect(token string) (string, bool) {
	return token, true
}

// failingOpener simulates undecryptable values.
type failingOpener struct{}

func (failingOpener) Unprotect(string) (string, bool) {
	return "", false
}

// fakeClient is a scriptable MCP client.
type fakeClient struct {
	serverName string
	tools      []mcp.Tool
	listErr    error
	callResult string
	closed     atomic.Int32
	closeGate  chan struct{} // when set, Close blocks until the gate closes
}

func (c *fakeClient) Initialize(_ context.Context, _ mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}

func (c *fakeClient) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return &mcp.ListToolsResult{Tools: c.tools}, nil
}

func (c *fakeClient) CallTool(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(c.callResult), nil
}

func (c *fakeClient) Close() error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.closed.Add(1)
	return nil
}

// fakeFactory creates fakeClients, counting creations and optionally
// failing the first N attempts per server.
type fakeFactory struct {
	mu          sync.Mutex
	creates     map[string]int
	failuresFor map[string]int
	alwaysFail  map[string]bool
	tools       map[string][]mcp.Tool
	callResults map[string]string
	delay       time.Duration
	closeGate   chan struct{}

	clients []*fakeClient
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		creates:     map[string]int{},
		failuresFor: map[string]int{},
		alwaysFail:  map[string]bool{},
		tools:       map[string][]mcp.Tool{},
		callResults: map[string]string{},
	}
}

func (f *fakeFactory) Create(_ context.Context, cfg ServerConfig) (Client, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates[cfg.Name]++
	if f.alwaysFail[cfg.Name] {
		return nil, fmt.Errorf("server %s is unreachable", cfg.Name)
	}
	if f.failuresFor[cfg.Name] > 0 {
		f.failuresFor[cfg.Name]--
		return nil, fmt.Errorf("server %s is unreachable", cfg.Name)
	}

	c := &fakeClient{
		serverName: cfg.Name,
		tools:      f.tools[cfg.Name],
		callResult: f.callResults[cfg.Name],
		closeGate:  f.closeGate,
	}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) createCount(server string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[server]
}

func (f *fakeFactory) totalCloses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, c := range f.clients {
		total += int(c.closed.Load())
	}
	return total
}

func stdioConfig(name string, tier Tier) ServerConfig {
	return ServerConfig{
		Name:    name,
		Kind:    KindStdio,
		Enabled: true,
		Tier:    tier,
		Command: "/usr/local/bin/" + name,
	}
}

func sseConfig(name string, tier Tier, url string) ServerConfig {
	return ServerConfig{
		Name:    name,
		Kind:    KindSSE,
		Enabled: true,
		Tier:    tier,
		BaseURL: url,
	}
}

func testInjector(store SecretStore, opener SecretOpener) *SecretInjector {
	if store == nil {
		store = &fakeSecretStore{}
	}
	if opener == nil {
		opener = passthroughOpener{}
	}
	return NewSecretInjector(store, opener, testLogger())
}

func testManager(store ConfigStore, roles RoleSource, factory ClientFactory, cfg ManagerConfig) *ClientManager {
	log := testLogger()
	resolver := NewResolver(store, roles, log)
	connector := NewConnector(factory, testInjector(nil, nil), 1, time.Millisecond, log)
	return NewClientManager(resolver, connector, cfg, log, nil)
}
