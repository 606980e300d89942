// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client is the subset of the MCP client surface this package needs. Both
// transport clients from mcp-go satisfy it.
type Client interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// ClientFactory creates an unstarted-or-started transport client for one
// server configuration. The factory does not initialize the MCP session;
// the connector does.
type ClientFactory interface {
	Create(ctx context.Context, cfg ServerConfig) (Client, error)
}

// TransportFactory is the default ClientFactory, dispatching on the
// configured server kind.
type TransportFactory struct{}

func (TransportFactory) Create(ctx context.Context, cfg ServerConfig) (Client, error) {
	switch cfg.Kind {
	case KindStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)

		stdioClient, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to start stdio MCP client: %w", err)
		}
		return stdioClient, nil

	case KindSSE:
		var opts []client.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, client.WithHeaders(cfg.Headers))
		}

		sseClient, err := client.NewSSEMCPClient(cfg.BaseURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE MCP client: %w", err)
		}
		if err := sseClient.Start(ctx); err != nil {
			sseClient.Close()
			return nil, fmt.Errorf("failed to start SSE MCP client: %w", err)
		}
		return sseClient, nil

	default:
		return nil, errors.Errorf("unknown MCP server kind %q", cfg.Kind)
	}
}

// Connector establishes a single live connection to a single server,
// retrying a bounded number of times with a fixed delay between attempts.
type Connector struct {
	factory  ClientFactory
	injector *SecretInjector
	attempts int
	delay    time.Duration
	log      logrus.FieldLogger
}

func NewConnector(factory ClientFactory, injector *SecretInjector, attempts int, delay time.Duration, log logrus.FieldLogger) *Connector {
	if attempts < 1 {
		attempts = 1
	}
	return &Connector{
		factory:  factory,
		injector: injector,
		attempts: attempts,
		delay:    delay,
		log:      log,
	}
}

// Connect injects the user's secrets into cfg and attempts to establish an
// initialized MCP session. The context aborts the inter-attempt delay but
// does not interrupt an attempt already underway. After the final attempt
// the last error is returned as-is.
func (c *Connector) Connect(ctx context.Context, cfg ServerConfig, userID string) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	injected := c.injector.InjectConfig(ctx, cfg, userID)

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.delay):
			}
		}

		mcpClient, err := c.connectOnce(ctx, injected)
		if err == nil {
			return mcpClient, nil
		}
		lastErr = err

		c.log.WithFields(logrus.Fields{
			"userID":  userID,
			"server":  cfg.Name,
			"attempt": attempt,
		}).WithError(err).Warn("MCP connection attempt failed")
	}

	return nil, lastErr
}

func (c *Connector) connectOnce(ctx context.Context, cfg ServerConfig) (Client, error) {
	mcpClient, err := c.factory.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Ensure the client is closed on error.
	success := false
	defer func() {
		if !success {
			mcpClient.Close()
		}
	}()

	if _, err := mcpClient.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}

	success = true
	return mcpClient, nil
}
