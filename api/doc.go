// Package api provides the HTTP status and asset server for gamerelay.
//
// The game itself is served on its own port by the acceptor. This package runs
// next to it and implements:
//   - Static file serving for the game client
//   - Health and instance identification
//   - Connection and session listings
//   - Admin broadcast and disconnect
//   - Prometheus metrics
//   - An MCP endpoint for tool-driven administration
//
// Endpoints:
//
//   - GET /api/health - status, instance ID, simulation tick, uptime
//   - GET /api/connections - connections known to the network loop (?state=authenticated)
//   - DELETE /api/connections/{id} - close one connection with status 1000
//   - GET /api/sessions - sessions held by the simulation
//   - POST /api/broadcast - send a Debug packet to every authenticated connection
//   - GET /metrics - Prometheus exposition
//   - POST /mcp - MCP JSON-RPC messages
//
// Connection queries never touch sockets directly: they are messages to the
// network loop with a reply channel, bounded by RequestTimeout.
//
// Error Handling:
//
// Errors are returned as JSON with an HTTP status code:
//
//	{
//	  "error": "connection not found"
//	}
package api
