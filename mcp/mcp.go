// Copyright (c) 2025-present MCPGate Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package mcp manages connections to Model Context Protocol (MCP) servers
// on a per-user basis.
//
// For each user it resolves the set of servers the user is entitled to from
// three configuration tiers (global, role, user), injects user-scoped
// secrets into connection parameters, establishes live client connections
// with bounded retries, and caches the resulting connection set with
// sliding and absolute expiration. A separate probing path reports
// per-server connectivity without touching the long-lived cache.
package mcp
