// Package mcpprovider adapts a Model Context Protocol tool server
// (launched as a stdio subprocess) into a pkg/provider.Provider: each MCP
// tool name becomes a method, and Handle calls map onto an MCP CallTool
// request.
package mcpprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gleitzeit/gleitzeit/pkg/provider"
)

// Config configures the stdio subprocess and connection to an MCP server.
type Config struct {
	// Command is the executable to launch.
	Command string
	// Args are the command-line arguments passed to Command.
	Args []string
	// Env are environment variables passed to the subprocess.
	Env []string
	// Timeout bounds each tool call; defaults to 30s.
	Timeout time.Duration
}

// Provider implements provider.Provider over a single MCP stdio server
// connection. Its SupportedMethods is populated from the server's
// advertised tool list at Initialize time.
type Provider struct {
	cfg Config

	mu      sync.RWMutex
	client  *client.Client
	methods []string
}

// New constructs an MCP-backed provider. The subprocess is not started
// until Initialize is called.
func New(cfg Config) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{cfg: cfg}
}

// Initialize launches the MCP server subprocess, performs the MCP
// initialize handshake, and caches its advertised tool list.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.cfg.Command == "" {
		return fmt.Errorf("mcpprovider: command is required")
	}

	c, err := client.NewStdioMCPClient(p.cfg.Command, p.cfg.Env, p.cfg.Args...)
	if err != nil {
		return fmt.Errorf("mcpprovider: create client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("mcpprovider: start client: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      mcp.Implementation{Name: "gleitzeit", Version: "0.1.0"},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("mcpprovider: initialize: %w", err)
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("mcpprovider: list tools: %w", err)
	}
	names := make([]string, len(tools.Tools))
	for i, tool := range tools.Tools {
		names[i] = tool.Name
	}

	p.mu.Lock()
	p.client = c
	p.methods = names
	p.mu.Unlock()
	return nil
}

// Shutdown closes the MCP connection and stops the subprocess.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	c := p.client
	p.client = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("mcpprovider: close client: %w", err)
	}
	return nil
}

// SupportedMethods returns the MCP server's advertised tool names.
func (p *Provider) SupportedMethods() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.methods))
	copy(out, p.methods)
	return out
}

// HealthCheck pings the MCP server.
func (p *Provider) HealthCheck(ctx context.Context) provider.HealthStatus {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c == nil {
		return provider.HealthStatus{Healthy: false, Details: "not initialized"}
	}
	if err := c.Ping(ctx); err != nil {
		return provider.HealthStatus{Healthy: false, Details: err.Error()}
	}
	return provider.HealthStatus{Healthy: true}
}

// Handle invokes method as an MCP tool call, with params passed as the
// tool's arguments. A tool result flagged IsError is surfaced as a Go
// error; otherwise the tool's text content items are joined and returned.
func (p *Provider) Handle(ctx context.Context, method string, params map[string]interface{}) (interface{}, error) {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("mcpprovider: not initialized")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: method, Arguments: params}}
	result, err := c.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpprovider: call tool %q: %w", method, err)
	}

	texts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
			continue
		}
		raw, err := json.Marshal(content)
		if err == nil {
			texts = append(texts, string(raw))
		}
	}

	if result.IsError {
		msg := "tool call returned an error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return nil, fmt.Errorf("mcpprovider: %s", msg)
	}

	if len(texts) == 1 {
		return texts[0], nil
	}
	return texts, nil
}
