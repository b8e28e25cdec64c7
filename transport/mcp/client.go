package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/session"
)

// Client is a thin MCP client that proxies to the status API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the status API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"gamerelay",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`gamerelay - MCP Admin Interface

This is a thin client that proxies all requests to a running gamerelay status API.

CONNECTION STATES:
connected -> session_pending -> authenticated. A failed authentication returns
the connection to connected. closed connections are removed at the end of a tick.

AVAILABLE TOOLS:
- server_health: Instance ID, simulation tick and uptime
- list_connections: Connections held by the network loop, optionally filtered by state
- list_sessions: Sessions held by the simulation
- broadcast_debug: Send a Debug packet to every authenticated connection
- disconnect: Close one connection with status 1000`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_health",
		Description: "Get server health, instance ID and simulation tick",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleHealth)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_connections",
		Description: "List game connections and their lifecycle state",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"state": map[string]interface{}{
					"type":        "string",
					"description": "Only list connections in this state",
					"enum":        stateNames(),
				},
			},
		},
	}, c.handleListConnections)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List issued and authenticated sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "broadcast_debug",
		Description: "Send a Debug packet to every authenticated connection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Text delivered to clients",
				},
			},
			Required: []string{"message"},
		},
	}, c.handleBroadcast)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "disconnect",
		Description: "Close a game connection with a normal close frame",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"connection_id": map[string]interface{}{
					"type":        "number",
					"description": "Connection ID from list_connections",
				},
			},
			Required: []string{"connection_id"},
		},
	}, c.handleDisconnect)
}

func stateNames() []string {
	names := make([]string, 0, len(connection.States))
	for _, s := range connection.States {
		names = append(names, s.String())
	}
	return names
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// Tool handlers

func (c *Client) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var health struct {
		Status     string `json:"status"`
		InstanceID string `json:"instance_id"`
		Tick       uint64 `json:"tick"`
		Uptime     string `json:"uptime"`
	}
	if err := c.apiCall(ctx, "GET", "/api/health", nil, &health); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Status: %s\nInstance: %s\nSimulation tick: %d\nUptime: %s\n",
		health.Status, health.InstanceID, health.Tick, health.Uptime)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := "/api/connections"
	if state, _ := arguments(request)["state"].(string); state != "" {
		path += "?state=" + state
	}

	var response struct {
		Count       int               `json:"count"`
		Connections []connection.Info `json:"connections"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatConnections(response.Connections)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int               `json:"count"`
		Sessions []session.Session `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		result += fmt.Sprintf("- conn %d: token %d (%s, issued %s)\n",
			s.ConnID, s.Token, s.StatusName, s.IssuedAt.Format("15:04:05"))
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleBroadcast(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, _ := arguments(request)["message"].(string)
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	var response struct {
		Recipients int `json:"recipients"`
	}
	body := map[string]string{"message": message}
	if err := c.apiCall(ctx, "POST", "/api/broadcast", body, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Broadcast delivered to %d connection(s)", response.Recipients)), nil
}

func (c *Client) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := arguments(request)["connection_id"].(float64)
	if !ok || id < 1 {
		return mcp.NewToolResultError("connection_id must be a positive number"), nil
	}

	path := fmt.Sprintf("/api/connections/%d", uint64(id))
	if err := c.apiCall(ctx, "DELETE", path, nil, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Connection %d disconnected", uint64(id))), nil
}

func formatConnections(infos []connection.Info) string {
	if len(infos) == 0 {
		return "No connections"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Connections (%d):\n\n", len(infos))
	for _, info := range infos {
		fmt.Fprintf(&b, "- #%d %s [%s]", info.ID, info.RemoteAddr, info.StateName)
		if info.HasToken {
			fmt.Fprintf(&b, " token=%d", info.Token)
		}
		fmt.Fprintf(&b, " in=%dB/%df out=%dB/%df queued=%d\n",
			info.BytesIn, info.FramesIn, info.BytesOut, info.FramesOut, info.Queued)
	}
	return b.String()
}
