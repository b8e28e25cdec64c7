// Package mcp provides a Model Context Protocol interface for administering a
// running gamerelay server.
//
// The client holds no state of its own. Every tool is a call to the status API
// served by the api package, so the same tools work over stdio against a remote
// server and over the /mcp HTTP endpoint of the server itself.
//
// MCP Tools:
//   - server_health: instance ID, simulation tick and uptime
//   - list_connections: connections and their lifecycle state
//   - list_sessions: issued and authenticated session tokens
//   - broadcast_debug: send a Debug packet to authenticated connections
//   - disconnect: close one connection
//
// Usage:
//
//	// Stdio mode
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	api.NewServer(api.Options{MCP: client.GetMCPServer(), ...})
package mcp
