// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// toolCallTimeout bounds a single tool invocation on a cached connection.
const toolCallTimeout = 5 * time.Minute

// ServerConnection is one live connection to an MCP server, owned by the
// cache entry of a single user.
type ServerConnection struct {
	client     Client
	serverName string
	tools      map[string]mcp.Tool
}

// ServerName returns the name of the server this connection belongs to.
func (sc *ServerConnection) ServerName() string {
	return sc.serverName
}

// Close closes the underlying transport client.
func (sc *ServerConnection) Close() error {
	return sc.client.Close()
}

// ToolDefinition records which server provides a tool.
type ToolDefinition struct {
	tool       mcp.Tool
	serverName string
}

// Tool is a callable tool handle bound to a live server connection.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Resolver    func(ctx context.Context, rawArgs json.RawMessage) (string, error)
}

// PluginHost receives name-deduplicated sets of tool handles. The host is
// responsible for not double-attaching a plugin with the same name.
type PluginHost interface {
	AttachIfAbsent(pluginName string, tools []Tool)
}

// UserClient holds all live MCP server connections for one user.
//
// mu guards conns, order and toolDefs: Close can run from the manager's
// cleanup ticker or DisconnectUser while readers still hold the client.
type UserClient struct {
	mu       sync.RWMutex
	conns    map[string]*ServerConnection
	order    []string
	toolDefs map[string]ToolDefinition
	userID   string
	log      logrus.FieldLogger
}

func newUserClient(userID string, log logrus.FieldLogger) *UserClient {
	return &UserClient{
		conns:    make(map[string]*ServerConnection),
		toolDefs: make(map[string]ToolDefinition),
		userID:   userID,
		log:      log,
	}
}

// connectToAllServers attempts to connect to every effective server in
// order. A single server's failure is logged and that server skipped;
// the remaining servers still connect.
func (c *UserClient) connectToAllServers(ctx context.Context, configs []ServerConfig, connector *Connector) {
	if len(configs) == 0 {
		c.log.WithField("userID", c.userID).Debug("No MCP servers configured for user")
		return
	}

	for _, cfg := range configs {
		if err := c.connectToServer(ctx, cfg, connector); err != nil {
			c.log.WithFields(logrus.Fields{
				"userID": c.userID,
				"server": cfg.Name,
			}).WithError(err).Error("Failed to connect to MCP server")
			continue
		}
	}
}

// connectToServer establishes one connection and registers its tools.
func (c *UserClient) connectToServer(ctx context.Context, cfg ServerConfig, connector *Connector) error {
	mcpClient, err := connector.Connect(ctx, cfg, c.userID)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if !success {
			mcpClient.Close()
		}
	}()

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	conn := &ServerConnection{
		client:     mcpClient,
		serverName: cfg.Name,
		tools:      make(map[string]mcp.Tool),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tool := range result.Tools {
		conn.tools[tool.Name] = tool

		if existing, exists := c.toolDefs[tool.Name]; exists {
			c.log.WithFields(logrus.Fields{
				"userID":  c.userID,
				"tool":    tool.Name,
				"server1": existing.serverName,
				"server2": cfg.Name,
			}).Warn("Tool name conflict detected, last server wins")
		}

		c.toolDefs[tool.Name] = ToolDefinition{
			tool:       tool,
			serverName: cfg.Name,
		}
	}

	c.conns[cfg.Name] = conn
	c.order = append(c.order, cfg.Name)

	success = true
	return nil
}

// Connections returns the live connections in the resolver's order.
func (c *UserClient) Connections() []*ServerConnection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conns := make([]*ServerConnection, 0, len(c.order))
	for _, name := range c.order {
		conns = append(conns, c.conns[name])
	}
	return conns
}

// Close closes every server connection. Errors are logged and the last one
// returned.
func (c *UserClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for name, conn := range c.conns {
		if err := conn.Close(); err != nil {
			c.log.WithFields(logrus.Fields{
				"userID": c.userID,
				"server": name,
			}).WithError(err).Error("Failed to close MCP client")
			lastErr = err
		}
	}

	c.conns = make(map[string]*ServerConnection)
	c.order = nil
	c.toolDefs = make(map[string]ToolDefinition)

	return lastErr
}

// convertPropertiesToOrderedMap converts a schema property map to an
// OrderedMap using JSON marshaling.
func convertPropertiesToOrderedMap(source map[string]any) (*orderedmap.OrderedMap[string, *jsonschema.Schema], error) {
	var target orderedmap.OrderedMap[string, *jsonschema.Schema]
	jsonData, err := json.Marshal(source)
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(jsonData, &target)
	return &target, err
}

// GetTools returns callable handles for every tool across the user's
// connections.
func (c *UserClient) GetTools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.conns) == 0 {
		return nil
	}

	tools := make([]Tool, 0, len(c.toolDefs))
	for name, toolInfo := range c.toolDefs {
		properties, err := convertPropertiesToOrderedMap(toolInfo.tool.InputSchema.Properties)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"userID": c.userID,
				"tool":   name,
			}).WithError(err).Error("Failed to convert tool input schema properties")
			continue
		}
		schema := &jsonschema.Schema{
			Type:       toolInfo.tool.InputSchema.Type,
			Properties: properties,
			Required:   toolInfo.tool.InputSchema.Required,
		}
		tools = append(tools, Tool{
			Name:        name,
			Description: toolInfo.tool.Description,
			Schema:      schema,
			Resolver:    c.createToolResolver(name),
		})
	}

	return tools
}

// AttachTo offers each connected server's tools to the host as one plugin
// named after the server.
func (c *UserClient) AttachTo(host PluginHost) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, name := range c.order {
		conn := c.conns[name]

		tools := make([]Tool, 0, len(conn.tools))
		for toolName := range conn.tools {
			def, ok := c.toolDefs[toolName]
			if !ok || def.serverName != name {
				// Shadowed by a later server's tool of the same name.
				continue
			}
			properties, err := convertPropertiesToOrderedMap(def.tool.InputSchema.Properties)
			if err != nil {
				continue
			}
			tools = append(tools, Tool{
				Name:        toolName,
				Description: def.tool.Description,
				Schema: &jsonschema.Schema{
					Type:       def.tool.InputSchema.Type,
					Properties: properties,
					Required:   def.tool.InputSchema.Required,
				},
				Resolver: c.createToolResolver(toolName),
			})
		}

		host.AttachIfAbsent(name, tools)
	}
}

// createToolResolver creates a resolver function for the given tool.
func (c *UserClient) createToolResolver(toolName string) func(ctx context.Context, rawArgs json.RawMessage) (string, error) {
	return func(ctx context.Context, rawArgs json.RawMessage) (string, error) {
		c.mu.RLock()
		toolInfo, exists := c.toolDefs[toolName]
		if !exists {
			c.mu.RUnlock()
			return "", fmt.Errorf("tool %s not found", toolName)
		}
		conn, exists := c.conns[toolInfo.serverName]
		c.mu.RUnlock()
		if !exists {
			return "", fmt.Errorf("server %s for tool %s not found", toolInfo.serverName, toolName)
		}

		ctx, cancel := context.WithTimeout(ctx, toolCallTimeout)
		defer cancel()

		var args map[string]interface{}
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("failed to parse arguments for tool %s: %w", toolName, err)
		}

		callRequest := mcp.CallToolRequest{}
		callRequest.Params.Name = toolName
		callRequest.Params.Arguments = args

		result, err := conn.client.CallTool(ctx, callRequest)
		if err != nil {
			return "", fmt.Errorf("failed to call tool %s on server %s: %w", toolName, toolInfo.serverName, err)
		}

		if len(result.Content) > 0 {
			text := ""
			for _, content := range result.Content {
				if textContent, ok := mcp.AsTextContent(content); ok {
					text += textContent.Text + "\n"
				}
			}
			return text, nil
		}

		return "", fmt.Errorf("no text content found in response from tool %s on server %s", toolName, toolInfo.serverName)
	}
}
