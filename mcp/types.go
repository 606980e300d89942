// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Tier is the precedence level of a configuration source. Higher tiers
// override lower ones when server names collide.
type Tier int

const (
	TierGlobal Tier = iota
	TierRole
	TierUser
)

func (t Tier) String() string {
	switch t {
	case TierGlobal:
		return "Global"
	case TierRole:
		return "Role"
	case TierUser:
		return "User"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ServerKind selects the transport used to reach an MCP server.
type ServerKind string

const (
	// KindStdio spawns a local command and speaks MCP over its pipes.
	KindStdio ServerKind = "stdio"
	// KindSSE connects to an HTTP(S) endpoint using server-sent events.
	KindSSE ServerKind = "sse"
)

// ServerConfig is one MCP server definition from a single configuration
// tier. Immutable once resolved for a request.
type ServerConfig struct {
	Name    string     `json:"name"`
	Kind    ServerKind `json:"kind"`
	Enabled bool       `json:"enabled"`
	Tier    Tier       `json:"-"`

	// Stdio servers.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// SSE servers.
	BaseURL string            `json:"baseURL,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Endpoint returns the command for stdio servers and the URL for SSE
// servers.
func (c *ServerConfig) Endpoint() string {
	if c.Kind == KindSSE {
		return c.BaseURL
	}
	return c.Command
}

// Clone returns a deep copy so secret injection never mutates the resolved
// configuration.
func (c *ServerConfig) Clone() ServerConfig {
	clone := *c
	clone.Args = slices.Clone(c.Args)
	clone.Env = maps.Clone(c.Env)
	clone.Headers = maps.Clone(c.Headers)
	return clone
}

// Fingerprint returns a canonical hash of the fields that determine what a
// connection to this server would look like. Two configs with different
// names but equal fingerprints are the same server. Name, tier and enabled
// state are deliberately excluded, as are secret values, which are only
// injected after resolution.
func (c *ServerConfig) Fingerprint() string {
	args := c.Args
	if args == nil {
		args = []string{}
	}
	env := c.Env
	if env == nil {
		env = map[string]string{}
	}
	headers := c.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	// encoding/json emits map keys in sorted order, which makes the
	// serialized forms canonical.
	argsJSON, _ := json.Marshal(args)
	envJSON, _ := json.Marshal(env)
	headersJSON, _ := json.Marshal(headers)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", c.Kind, c.Endpoint(), argsJSON, envJSON, headersJSON)
	return hex.EncodeToString(h.Sum(nil))
}
